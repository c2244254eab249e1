// Package login implements the login app: the RSA/cuckoo-cycle gated
// handshake that exchanges a client's credentials for a blowfish key and
// a login_key the base app will redeem.
package login

import (
	"fmt"
	"net/netip"

	"wtproto/pkg/bundle"
	"wtproto/pkg/codec"
)

// Element ids. Values are this implementation's own stable choice; the
// wire only requires client and server agree, which the dispatch table
// below encodes.
const (
	ElemPing             uint8 = 0x00
	ElemLoginRequest     uint8 = 0x01
	ElemChallengeResponse uint8 = 0x02
)

// Dispatch is the element id -> framing table the login app's bundle
// readers/writers use. Ping is fixed-4 (one u32); LoginRequest and
// ChallengeResponse carry variable-length bodies.
var Dispatch = bundle.Dispatch{
	ElemPing: {ID: ElemPing, Name: "Ping", Length: bundle.LengthFixed, FixedBytes: 4},
	ElemLoginRequest: {ID: ElemLoginRequest, Name: "LoginRequest", Length: bundle.LengthVar32},
	ElemChallengeResponse: {ID: ElemChallengeResponse, Name: "ChallengeResponse", Length: bundle.LengthVar16},
}

// Scheme selects how a LoginRequest's body (after the first byte) is
// encoded on the wire.
type Scheme uint8

const (
	SchemeNone Scheme = 0
	SchemeRSA  Scheme = 1
)

// LoginRequest is the decoded credentials payload, after any RSA layer has
// already been peeled off by the caller.
type LoginRequest struct {
	BlowfishKey []byte
	Username    string
	Password    string
}

// EncodePing encodes a Ping{num} body.
func EncodePing(num uint32) []byte {
	w := codec.NewWriter()
	w.U32(num)
	return w.Bytes()
}

// DecodePing decodes a Ping body.
func DecodePing(body []byte) (uint32, error) {
	r := codec.NewReader(body)
	return r.U32()
}

// DecodeLoginRequestScheme reads the leading scheme selector byte and
// returns it alongside the remaining (possibly still-encrypted) bytes.
func DecodeLoginRequestScheme(body []byte) (Scheme, []byte, error) {
	if len(body) < 1 {
		return 0, nil, fmt.Errorf("login: empty LoginRequest body")
	}
	return Scheme(body[0]), body[1:], nil
}

// DecodeLoginRequestPlain decodes the plaintext credential fields. Callers
// on the RSA scheme pass the RSA-decrypted bytes here.
func DecodeLoginRequestPlain(plain []byte) (LoginRequest, error) {
	r := codec.NewReader(plain)
	key, err := r.PackedBlob()
	if err != nil {
		return LoginRequest{}, fmt.Errorf("login: blowfish_key: %w", err)
	}
	user, err := r.PackedString()
	if err != nil {
		return LoginRequest{}, fmt.Errorf("login: username: %w", err)
	}
	pass, err := r.PackedString()
	if err != nil {
		return LoginRequest{}, fmt.Errorf("login: password: %w", err)
	}
	return LoginRequest{BlowfishKey: key, Username: user, Password: pass}, nil
}

// EncodeLoginRequest is the client-side counterpart, used by tests to
// build fixtures without a real RSA key.
func EncodeLoginRequest(scheme Scheme, req LoginRequest) []byte {
	w := codec.NewWriter()
	w.U8(uint8(scheme))
	inner := codec.NewWriter()
	inner.PackedBlob(req.BlowfishKey)
	inner.PackedString(req.Username)
	inner.PackedString(req.Password)
	w.Blob(inner.Bytes())
	return w.Bytes()
}

// LoginChallengeKind tags the variant carried by LoginChallenge.
type LoginChallengeKind uint8

const LoginChallengeCuckoo LoginChallengeKind = 0

// LoginChallenge is the cuckoo-cycle puzzle the server hands out after a
// first LoginRequest.
type LoginChallenge struct {
	Kind     LoginChallengeKind
	Prefix   string
	MaxNonce uint32
}

// EncodeLoginChallenge encodes a LoginChallenge reply body.
func EncodeLoginChallenge(c LoginChallenge) []byte {
	w := codec.NewWriter()
	w.U8(uint8(c.Kind))
	w.PackedString(c.Prefix)
	w.U32(c.MaxNonce)
	return w.Bytes()
}

// DecodeLoginChallenge decodes a LoginChallenge reply body.
func DecodeLoginChallenge(body []byte) (LoginChallenge, error) {
	r := codec.NewReader(body)
	kind, err := r.U8()
	if err != nil {
		return LoginChallenge{}, err
	}
	prefix, err := r.PackedString()
	if err != nil {
		return LoginChallenge{}, err
	}
	maxNonce, err := r.U32()
	if err != nil {
		return LoginChallenge{}, err
	}
	return LoginChallenge{Kind: LoginChallengeKind(kind), Prefix: prefix, MaxNonce: maxNonce}, nil
}

// ChallengeResponseKind tags the variant carried by ChallengeResponse.
type ChallengeResponseKind uint8

const ChallengeResponseCuckoo ChallengeResponseKind = 0

// ChallengeResponse is the client's attempted solution to a LoginChallenge.
type ChallengeResponse struct {
	Kind     ChallengeResponseKind
	Duration float32
	Solution []uint32
}

// EncodeChallengeResponse encodes a ChallengeResponse body.
func EncodeChallengeResponse(r ChallengeResponse) []byte {
	w := codec.NewWriter()
	w.U8(uint8(r.Kind))
	w.F32(r.Duration)
	w.PackedU32(uint32(len(r.Solution)))
	for _, n := range r.Solution {
		w.U32(n)
	}
	return w.Bytes()
}

// DecodeChallengeResponse decodes a ChallengeResponse body.
func DecodeChallengeResponse(body []byte) (ChallengeResponse, error) {
	r := codec.NewReader(body)
	kind, err := r.U8()
	if err != nil {
		return ChallengeResponse{}, err
	}
	duration, err := r.F32()
	if err != nil {
		return ChallengeResponse{}, err
	}
	n, err := r.PackedU32()
	if err != nil {
		return ChallengeResponse{}, err
	}
	if n > uint32(r.Len()/4) {
		return ChallengeResponse{}, fmt.Errorf("login: challenge response solution count %d exceeds remaining body", n)
	}
	solution := make([]uint32, n)
	for i := range solution {
		v, err := r.U32()
		if err != nil {
			return ChallengeResponse{}, err
		}
		solution[i] = v
	}
	return ChallengeResponse{Kind: ChallengeResponseKind(kind), Duration: duration, Solution: solution}, nil
}

// LoginSuccess is the reply that hands the client off to the base app.
type LoginSuccess struct {
	Addr          netip.AddrPort
	LoginKey      uint32
	ServerMessage string
}

// EncodeLoginSuccess encodes a LoginSuccess reply body.
func EncodeLoginSuccess(s LoginSuccess) []byte {
	w := codec.NewWriter()
	w.AddrPort(s.Addr)
	w.U32(s.LoginKey)
	w.PackedString(s.ServerMessage)
	return w.Bytes()
}

// DecodeLoginSuccess decodes a LoginSuccess reply body.
func DecodeLoginSuccess(body []byte) (LoginSuccess, error) {
	r := codec.NewReader(body)
	addr, err := r.AddrPort()
	if err != nil {
		return LoginSuccess{}, err
	}
	key, err := r.U32()
	if err != nil {
		return LoginSuccess{}, err
	}
	msg, err := r.PackedString()
	if err != nil {
		return LoginSuccess{}, err
	}
	return LoginSuccess{Addr: addr, LoginKey: key, ServerMessage: msg}, nil
}

// LoginError codes.
const (
	ErrCodeBadCredentials uint8 = 1
	ErrCodeBadChallenge   uint8 = 2
	ErrCodeInternal       uint8 = 3
)

// EncodeLoginError encodes a LoginError reply body.
func EncodeLoginError(code uint8, blob string) []byte {
	w := codec.NewWriter()
	w.U8(code)
	w.PackedString(blob)
	return w.Bytes()
}
