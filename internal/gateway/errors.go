package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roelfdiedericks/modelgate/internal/llm"
	"github.com/roelfdiedericks/modelgate/internal/models"
	"github.com/roelfdiedericks/modelgate/internal/store"
)

// Wire error codes, JSON-RPC core plus the gateway's server range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeProviderError  = -32000
	CodeModelNotFound  = -32001
	CodeAuthError      = -32002
	CodeRateLimit      = -32003
)

func rpcError(code int, format string, args ...interface{}) *RPCError {
	return &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// mapError translates engine failures into wire errors. Anything
// unrecognized becomes an internal error rather than a silent failure.
func mapError(err error) *RPCError {
	if err == nil {
		return nil
	}

	var rpc *RPCError
	if errors.As(err, &rpc) {
		return rpc
	}

	var notFound *models.NotFoundError
	if errors.As(err, &notFound) {
		return &RPCError{
			Code:    CodeModelNotFound,
			Message: err.Error(),
			Data: map[string]interface{}{
				"availableModels": notFound.Available,
				"suggestedModels": notFound.Suggested,
			},
		}
	}

	var invalidID *models.InvalidIDError
	if errors.As(err, &invalidID) {
		return rpcError(CodeInvalidParams, "%s", err.Error())
	}

	if errors.Is(err, store.ErrNotFound) {
		return rpcError(CodeInvalidParams, "unknown request or conversation: %s", err.Error())
	}

	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		switch pe.Type {
		case llm.ErrorTypeAuth:
			return rpcError(CodeAuthError, "%s", err.Error())
		case llm.ErrorTypeRateLimit:
			out := rpcError(CodeRateLimit, "%s", err.Error())
			if pe.RetryAfter > 0 {
				out.Data = map[string]interface{}{"retryAfterMs": pe.RetryAfter.Milliseconds()}
			}
			return out
		case llm.ErrorTypeTimeout:
			msg := err.Error()
			if !strings.Contains(msg, "timed out") {
				msg = "request timed out: " + msg
			}
			return rpcError(CodeProviderError, "%s", msg)
		default:
			return rpcError(CodeProviderError, "%s", err.Error())
		}
	}

	return rpcError(CodeInternalError, "%s", err.Error())
}
