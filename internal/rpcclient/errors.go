package rpcclient

import (
	"fmt"

	"github.com/overlaywatch/canopy/internal/xerrors"
)

// JsonRpcError carries the code and message from a well-formed JSON-RPC
// error response. It is always classified as xerrors.KindRpcSemantic: the
// call reached the peer and the peer rejected it, so retrying verbatim
// will not help.
type JsonRpcError struct {
	Code    int
	Message string
}

func (e *JsonRpcError) Error() string {
	return fmt.Sprintf("rpc: json-rpc error %d: %s", e.Code, e.Message)
}

func newTransportErr(err error) error { return xerrors.New(xerrors.KindRpcTransport, err) }
func newSemanticErr(code int, msg string) error {
	return xerrors.New(xerrors.KindRpcSemantic, &JsonRpcError{Code: code, Message: msg})
}
func newDecodeErr(err error) error { return xerrors.New(xerrors.KindDecode, err) }
