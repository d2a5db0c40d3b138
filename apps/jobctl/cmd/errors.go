package cmd

import (
	"log"

	sdkerrors "github.com/quatton/jobman/pkg/qsdk/qerr"
)

// exitIfSdkError inspects errors returned from the SDK and emits user-friendly
// guidance before exiting. Non-SDK errors fall back to log.Fatalf.
func exitIfSdkError(err error) {
	if err == nil {
		return
	}
	switch {
	case sdkerrors.IsCode(err, sdkerrors.CodeUnreachable):
		log.Fatalf("scheduler unreachable: check --host or 'jobctl config host' (%v)", err)
	case sdkerrors.IsCode(err, sdkerrors.CodeNoCapacity):
		log.Fatalf("no agent can take this job right now: %v", err)
	case sdkerrors.IsCode(err, sdkerrors.CodeNotFound):
		log.Fatalf("job not found: %v", err)
	case sdkerrors.IsCode(err, sdkerrors.CodeConflict):
		log.Fatalf("conflict: %v", err)
	default:
		log.Fatalf("%v", err)
	}
}
