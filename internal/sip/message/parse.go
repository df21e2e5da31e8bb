package message

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
)

// DTMF body content types accepted on INFO.
const (
	ContentTypeDTMFRelay = "application/dtmf-relay"
	ContentTypeDTMF      = "application/dtmf"
)

// Status codes the station sends or acts on.
const (
	StatusOK                = 200
	StatusUnauthorized      = 401
	StatusProxyAuthRequired = 407
	StatusCallDoesNotExist  = 481
	StatusBusyHere          = 486
	StatusNotImplemented    = 501
)

// Message is an inbound SIP message: *Response or *InboundRequest.
type Message interface {
	message()
}

// Response carries the fields of an inbound response the engines use.
type Response struct {
	StatusCode int
	Reason     string
	CallID     string
	CSeq       uint32
	Method     string
	ToTag      string

	// ChallengeHeader/ChallengeValue are set on 401/407.
	ChallengeHeader string
	ChallengeValue  string
}

func (*Response) message() {}

// Status renders the status line fragment, e.g. "486 Busy Here".
func (r *Response) Status() string {
	if r.Reason == "" {
		return strconv.Itoa(r.StatusCode)
	}
	return strconv.Itoa(r.StatusCode) + " " + r.Reason
}

// IsProvisional reports a 1xx response.
func (r *Response) IsProvisional() bool { return r.StatusCode >= 100 && r.StatusCode < 200 }

// IsSuccess reports a 2xx response.
func (r *Response) IsSuccess() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// IsChallenge reports a 401 or 407 response.
func (r *Response) IsChallenge() bool {
	return r.StatusCode == StatusUnauthorized || r.StatusCode == StatusProxyAuthRequired
}

// InboundRequest is a request received from the server (BYE, INFO, ...).
type InboundRequest struct {
	Method      string
	CallID      string
	CSeq        uint32
	ContentType string
	Body        []byte

	raw *sip.Request
}

func (*InboundRequest) message() {}

// Reply renders a response to the request with the given status.
func (r *InboundRequest) Reply(statusCode int, reason string) []byte {
	res := sip.NewResponseFromRequest(r.raw, statusCode, reason, nil)
	return []byte(res.String())
}

// DTMF extracts the tone carried by an INFO body.
// It accepts application/dtmf-relay ("Signal=5") and application/dtmf ("5").
func (r *InboundRequest) DTMF() (byte, bool) {
	ct := strings.ToLower(strings.TrimSpace(r.ContentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}

	switch ct {
	case ContentTypeDTMFRelay:
		for _, line := range strings.Split(string(r.Body), "\n") {
			key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "signal") {
				continue
			}
			value = strings.TrimSpace(value)
			if len(value) == 1 {
				return value[0], true
			}
			return 0, false
		}
	case ContentTypeDTMF:
		value := strings.TrimSpace(string(r.Body))
		if len(value) == 1 {
			return value[0], true
		}
	}
	return 0, false
}

// Parse decodes one datagram.
func Parse(data []byte) (Message, error) {
	msg, err := sip.NewParser().ParseSIP(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch m := msg.(type) {
	case *sip.Response:
		return parseResponse(m)
	case *sip.Request:
		return parseRequest(m)
	default:
		return nil, fmt.Errorf("%w: unexpected message type %T", ErrMalformed, msg)
	}
}

func parseResponse(m *sip.Response) (*Response, error) {
	res := &Response{
		StatusCode: int(m.StatusCode),
		Reason:     m.Reason,
	}
	if err := fillDialogIDs(m, &res.CallID, &res.CSeq, &res.Method); err != nil {
		return nil, err
	}
	if to := m.To(); to != nil {
		res.ToTag, _ = to.Params.Get("tag")
	}

	for _, name := range []string{"WWW-Authenticate", "Proxy-Authenticate"} {
		if h := m.GetHeader(name); h != nil {
			res.ChallengeHeader = name
			res.ChallengeValue = h.Value()
			break
		}
	}
	return res, nil
}

func parseRequest(m *sip.Request) (*InboundRequest, error) {
	req := &InboundRequest{
		Method: string(m.Method),
		Body:   m.Body(),
		raw:    m,
	}
	var method string
	if err := fillDialogIDs(m, &req.CallID, &req.CSeq, &method); err != nil {
		return nil, err
	}
	if h := m.GetHeader("Content-Type"); h != nil {
		req.ContentType = h.Value()
	}
	return req, nil
}

type headerGetter interface {
	GetHeader(name string) sip.Header
}

func fillDialogIDs(m headerGetter, callID *string, cseq *uint32, method *string) error {
	h := m.GetHeader("Call-ID")
	if h == nil {
		return fmt.Errorf("%w: missing Call-ID", ErrMalformed)
	}
	*callID = h.Value()

	h = m.GetHeader("CSeq")
	if h == nil {
		return fmt.Errorf("%w: missing CSeq", ErrMalformed)
	}
	fields := strings.Fields(h.Value())
	if len(fields) != 2 {
		return fmt.Errorf("%w: bad CSeq %q", ErrMalformed, h.Value())
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return fmt.Errorf("%w: bad CSeq %q", ErrMalformed, h.Value())
	}
	*cseq = uint32(n)
	*method = strings.ToUpper(fields[1])
	return nil
}
