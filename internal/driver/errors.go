package driver

import (
	"errors"
	"fmt"
)

// Status codes returned by the driver. Values follow the OpenCL numbering so
// that logs read the same as on a native ICD.
const (
	Success                            = 0
	DeviceNotFound                     = -1
	DeviceNotAvailable                 = -2
	MemObjectAllocationFailure         = -4
	OutOfResources                     = -5
	ProfilingInfoNotAvailable          = -7
	ExecStatusErrorForEventsInWaitList = -14
	InvalidValue                       = -30
	InvalidDevice                      = -33
	InvalidContext                     = -34
	InvalidQueueProperties             = -35
	InvalidMemObject                   = -38
	InvalidImageSize                   = -40
	InvalidProgram                     = -44
	InvalidKernelName                  = -46
	InvalidArgIndex                    = -49
	InvalidArgValue                    = -50
	InvalidKernelArgs                  = -52
	InvalidWorkGroupSize               = -54
	InvalidEventWaitList               = -57
	InvalidEvent                       = -58
	InvalidOperation                   = -59
	InvalidBufferSize                  = -61
	KernelExecutionFailed              = -9999
)

var codeNames = map[int]string{
	DeviceNotFound:                     "CL_DEVICE_NOT_FOUND",
	DeviceNotAvailable:                 "CL_DEVICE_NOT_AVAILABLE",
	MemObjectAllocationFailure:         "CL_MEM_OBJECT_ALLOCATION_FAILURE",
	OutOfResources:                     "CL_OUT_OF_RESOURCES",
	ProfilingInfoNotAvailable:          "CL_PROFILING_INFO_NOT_AVAILABLE",
	ExecStatusErrorForEventsInWaitList: "CL_EXEC_STATUS_ERROR_FOR_EVENTS_IN_WAIT_LIST",
	InvalidValue:                       "CL_INVALID_VALUE",
	InvalidDevice:                      "CL_INVALID_DEVICE",
	InvalidContext:                     "CL_INVALID_CONTEXT",
	InvalidQueueProperties:             "CL_INVALID_QUEUE_PROPERTIES",
	InvalidMemObject:                   "CL_INVALID_MEM_OBJECT",
	InvalidImageSize:                   "CL_INVALID_IMAGE_SIZE",
	InvalidProgram:                     "CL_INVALID_PROGRAM",
	InvalidKernelName:                  "CL_INVALID_KERNEL_NAME",
	InvalidArgIndex:                    "CL_INVALID_ARG_INDEX",
	InvalidArgValue:                    "CL_INVALID_ARG_VALUE",
	InvalidKernelArgs:                  "CL_INVALID_KERNEL_ARGS",
	InvalidWorkGroupSize:               "CL_INVALID_WORK_GROUP_SIZE",
	InvalidEventWaitList:               "CL_INVALID_EVENT_WAIT_LIST",
	InvalidEvent:                       "CL_INVALID_EVENT",
	InvalidOperation:                   "CL_INVALID_OPERATION",
	InvalidBufferSize:                  "CL_INVALID_BUFFER_SIZE",
	KernelExecutionFailed:              "KERNEL_EXECUTION_FAILED",
}

// Error is a failed driver call. Code is one of the status constants above.
type Error struct {
	Code int
	Op   string
	Err  error
}

func (e *Error) Error() string {
	name, ok := codeNames[e.Code]
	if !ok {
		name = fmt.Sprintf("status %d", e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, name, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, name)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code int, op string) *Error {
	return &Error{Code: code, Op: op}
}

// StatusOf extracts the driver status code from err, or KernelExecutionFailed
// when err did not originate in the driver.
func StatusOf(err error) int {
	if err == nil {
		return Success
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return KernelExecutionFailed
}
