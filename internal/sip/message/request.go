package message

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// SIP methods used by the station.
const (
	MethodRegister = "REGISTER"
	MethodInvite   = "INVITE"
	MethodAck      = "ACK"
	MethodCancel   = "CANCEL"
	MethodBye      = "BYE"
	MethodInfo     = "INFO"
)

// branchPrefix is the RFC 3261 magic cookie every branch starts with.
const branchPrefix = "z9hG4bK"

// maxForwards is the hop limit put on every request.
const maxForwards = 70

// Request is the transport-neutral description of one outbound request.
// The engines own every identifier; Builder only renders them.
type Request struct {
	Method string
	URI    string // request target, e.g. sip:100@pbx.local

	From    string // address of record, e.g. sip:door@pbx.local
	FromTag string
	To      string
	ToTag   string

	CallID string
	CSeq   uint32
	Branch string

	// Expires is rendered only when HasExpires is set; zero unregisters.
	Expires    int
	HasExpires bool

	// AuthHeader/AuthValue carry the digest answer on a retry.
	AuthHeader string
	AuthValue  string

	ContentType string
	Body        []byte
}

// Builder renders Requests for one local endpoint.
//
// Thread Safety:
//   - A Builder is immutable after construction and safe for concurrent use.
type Builder struct {
	host      string
	port      int
	username  string
	userAgent string
}

// NewBuilder creates a Builder for the station reachable at host:port.
//
// Parameters:
//   - host: local address advertised in Via and Contact
//   - port: local SIP port
//   - username: account user, used in the Contact URI
//   - userAgent: value of the User-Agent header (omitted when empty)
func NewBuilder(host string, port int, username, userAgent string) *Builder {
	return &Builder{host: host, port: port, username: username, userAgent: userAgent}
}

// Contact returns the station's contact URI.
func (b *Builder) Contact() string {
	return fmt.Sprintf("sip:%s@%s:%d", b.username, b.host, b.port)
}

// Build converts r into a sipgo request.
func (b *Builder) Build(r *Request) (*sip.Request, error) {
	if r.Method == "" || r.URI == "" || r.CallID == "" || r.Branch == "" {
		return nil, fmt.Errorf("%w: method, uri, call-id and branch are required", ErrInvalidRequest)
	}

	var recipient sip.Uri
	if err := sip.ParseUri(r.URI, &recipient); err != nil {
		return nil, fmt.Errorf("%w: target %q: %v", ErrInvalidRequest, r.URI, err)
	}

	req := sip.NewRequest(sip.RequestMethod(r.Method), recipient)
	req.AppendHeader(sip.NewHeader("Via",
		fmt.Sprintf("SIP/2.0/UDP %s:%d;branch=%s;rport", b.host, b.port, r.Branch)))
	req.AppendHeader(sip.NewHeader("Max-Forwards", strconv.Itoa(maxForwards)))
	req.AppendHeader(sip.NewHeader("From", nameAddr(r.From, r.FromTag)))
	req.AppendHeader(sip.NewHeader("To", nameAddr(r.To, r.ToTag)))

	callID := sip.CallIDHeader(r.CallID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: r.CSeq, MethodName: sip.RequestMethod(r.Method)})

	if r.Method != MethodCancel && r.Method != MethodAck {
		req.AppendHeader(sip.NewHeader("Contact", "<"+b.Contact()+">"))
	}
	if r.HasExpires {
		req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(r.Expires)))
	}
	if r.AuthHeader != "" {
		req.AppendHeader(sip.NewHeader(r.AuthHeader, r.AuthValue))
	}
	if b.userAgent != "" {
		req.AppendHeader(sip.NewHeader("User-Agent", b.userAgent))
	}
	if r.ContentType != "" {
		req.AppendHeader(sip.NewHeader("Content-Type", r.ContentType))
	}
	req.SetBody(r.Body)

	return req, nil
}

// Marshal renders r as wire bytes.
func (b *Builder) Marshal(r *Request) ([]byte, error) {
	req, err := b.Build(r)
	if err != nil {
		return nil, err
	}
	return []byte(req.String()), nil
}

// NewCallID returns a fresh Call-ID scoped to host.
func NewCallID(host string) string {
	return uuid.NewString() + "@" + host
}

// NewBranch returns a fresh transaction branch.
func NewBranch() string {
	return branchPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewTag returns a fresh From/To tag.
func NewTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func nameAddr(uri, tag string) string {
	if tag == "" {
		return "<" + uri + ">"
	}
	return "<" + uri + ">;tag=" + tag
}
