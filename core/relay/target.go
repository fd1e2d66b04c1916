package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

var (
	// ErrEncoderStart 目标无效或进程无法启动，仅终止当前会话
	ErrEncoderStart = errors.New("encoder start failure")
	// ErrEncoderRuntime 推流中途进程异常退出
	ErrEncoderRuntime = errors.New("encoder runtime failure")
)

// SessionError carries the operator-facing message sent in the error frame.
type SessionError struct {
	Message string
	Kind    error
	Cause   error
}

func (e *SessionError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *SessionError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func startError(msg string, cause error) error {
	return &SessionError{Message: msg, Kind: ErrEncoderStart, Cause: cause}
}

// FrameMessage returns the message to put in an error frame for err.
func FrameMessage(err error) string {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Message
	}
	return err.Error()
}

// HostResolver is satisfied by *net.Resolver.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

var literalHost = regexp.MustCompile(`^(localhost|127\.0\.0\.1|\[::1\]|::1|\d{1,3}(\.\d{1,3}){3})$`)

// ValidateTarget checks the RTMP target before anything is spawned.
// Literal addresses and localhost skip name resolution.
func ValidateTarget(ctx context.Context, target string, resolver HostResolver) error {
	if target == "" {
		return startError("Destino RTMP não configurado. Defina RTMP_URL ou RTMP_HOST + RTMP_KEY.", nil)
	}
	u, err := url.Parse(target)
	if err != nil {
		return startError("URL RTMP inválida. Verifique o formato.", err)
	}
	if u.Scheme != "rtmp" {
		return startError("URL deve começar com rtmp://", nil)
	}
	if u.Host == "" {
		return startError("URL RTMP inválida. Verifique o formato.", nil)
	}
	host := u.Hostname()
	if literalHost.MatchString(host) || literalHost.MatchString(u.Host) || resolver == nil {
		return nil
	}
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		return startError(fmt.Sprintf("Não foi possível resolver o host %s. Use o IP do servidor ou verifique se o nome está correto e acessível.", host), err)
	}
	return nil
}
