package login

import (
	"crypto/rand"
	"crypto/rsa"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"wtproto/internal/config"
	"wtproto/internal/handoff"
	"wtproto/pkg/bundle"
	"wtproto/pkg/cuckoo"
	rsafilter "wtproto/pkg/filter/rsa"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(config.Login{
		Host:           "0.0.0.0",
		Port:           20016,
		BaseAddr:       "127.0.0.1:20017",
		CuckooMaxNonce: 1 << 19,
	}, nil, handoff.NewTable())
	require.NoError(t, err)
	return s
}

func drainReplies(t *testing.T, b *bundle.Bundle) []*bundle.NextElement {
	t.Helper()
	var out []*bundle.NextElement
	r := b.ElementReader(Dispatch)
	for {
		el, ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, el)
	}
	return out
}

func TestPingEchoesReply(t *testing.T) {
	s := newTestServer(t)
	sess := &Session{Addr: netip.MustParseAddrPort("10.0.0.1:1"), State: StateNew}
	out := bundle.New()

	el := &bundle.NextElement{ID: ElemPing, Body: EncodePing(7), IsRequest: true, ReplyID: 1}
	require.NoError(t, s.handleElement(sess, el, out))

	replies := drainReplies(t, out)
	require.Len(t, replies, 1)
	require.True(t, replies[0].IsReply)
	require.Equal(t, uint32(1), replies[0].ReplyID)
	num, err := DecodePing(replies[0].Body)
	require.NoError(t, err)
	require.Equal(t, uint32(7), num)
}

func TestFirstLoginRequestSendsChallenge(t *testing.T) {
	s := newTestServer(t)
	sess := &Session{Addr: netip.MustParseAddrPort("10.0.0.1:1"), State: StateNew}
	out := bundle.New()

	body := EncodeLoginRequest(SchemeNone, LoginRequest{
		BlowfishKey: make([]byte, 16),
		Username:    "u",
		Password:    "p",
	})
	el := &bundle.NextElement{ID: ElemLoginRequest, Body: body, IsRequest: true, ReplyID: 1}
	require.NoError(t, s.handleElement(sess, el, out))

	require.Equal(t, StateChallengeSent, sess.State)
	require.NotEmpty(t, sess.Prefix)

	replies := drainReplies(t, out)
	require.Len(t, replies, 1)
	challenge, err := DecodeLoginChallenge(replies[0].Body)
	require.NoError(t, err)
	require.Equal(t, LoginChallengeCuckoo, challenge.Kind)
	require.Equal(t, sess.Prefix, challenge.Prefix)
	require.Equal(t, sess.MaxNonce, challenge.MaxNonce)
}

func TestChallengeResponseAndSecondLoginRequestHandoff(t *testing.T) {
	s := newTestServer(t)
	addr := netip.MustParseAddrPort("10.0.0.1:1")
	sess := &Session{Addr: addr, State: StateNew}
	out := bundle.New()

	body := EncodeLoginRequest(SchemeNone, LoginRequest{BlowfishKey: make([]byte, 16), Username: "u", Password: "p"})
	el := &bundle.NextElement{ID: ElemLoginRequest, Body: body, IsRequest: true, ReplyID: 1}
	require.NoError(t, s.handleElement(sess, el, out))
	require.Equal(t, StateChallengeSent, sess.State)

	solution, found := cuckoo.Work(sess.Prefix, sess.MaxNonce, cuckoo.DefaultParams())
	require.True(t, found)
	require.True(t, cuckoo.Verify(sess.Prefix, cuckoo.DefaultParams(), solution))

	out2 := bundle.New()
	respBody := EncodeChallengeResponse(ChallengeResponse{Kind: ChallengeResponseCuckoo, Duration: 1.5, Solution: solution})
	respEl := &bundle.NextElement{ID: ElemChallengeResponse, Body: respBody, IsRequest: true, ReplyID: 2}
	require.NoError(t, s.handleElement(sess, respEl, out2))
	require.Equal(t, StateChallengeOK, sess.State)

	out3 := bundle.New()
	loginKey := ^uint32(0)
	secondReq := &bundle.NextElement{ID: ElemLoginRequest, Body: body, IsRequest: true, ReplyID: 3}
	require.NoError(t, s.handleElement(sess, secondReq, out3))
	require.Equal(t, StateSuccessSent, sess.State)

	replies := drainReplies(t, out3)
	require.Len(t, replies, 1)
	success, err := DecodeLoginSuccess(replies[0].Body)
	require.NoError(t, err)
	require.NotEqual(t, loginKey, success.LoginKey) // sanity: a real key was drawn
	require.Equal(t, netip.MustParseAddrPort("127.0.0.1:20017"), success.Addr)

	pc, ok := s.pending.Take(success.LoginKey)
	require.True(t, ok)
	require.Equal(t, addr, pc.Addr)
	require.Equal(t, "u", pc.Username)
}

func TestChallengeResponseRejectsWrongSolution(t *testing.T) {
	s := newTestServer(t)
	sess := &Session{Addr: netip.MustParseAddrPort("10.0.0.1:1"), State: StateChallengeSent, Prefix: "deadbeef", MaxNonce: 1 << 10}
	out := bundle.New()

	el := &bundle.NextElement{
		ID:        ElemChallengeResponse,
		Body:      EncodeChallengeResponse(ChallengeResponse{Kind: ChallengeResponseCuckoo, Solution: []uint32{1, 2, 3}}),
		IsRequest: true,
		ReplyID:   9,
	}
	require.NoError(t, s.handleElement(sess, el, out))
	require.Equal(t, StateNew, sess.State)

	replies := drainReplies(t, out)
	require.Len(t, replies, 1)
}

func TestLoginRequestOverRSA(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	s, err := NewServer(config.Login{Host: "0.0.0.0", Port: 20016, BaseAddr: "127.0.0.1:20017", CuckooMaxNonce: 1 << 10}, priv, handoff.NewTable())
	require.NoError(t, err)

	sess := &Session{Addr: netip.MustParseAddrPort("10.0.0.1:1"), State: StateNew}

	full := EncodeLoginRequest(SchemeNone, LoginRequest{BlowfishKey: make([]byte, 16), Username: "u", Password: "p"})
	inner := full[1:]

	w := rsafilter.NewWriter(&priv.PublicKey)
	require.NoError(t, w.Write(inner))
	ciphertext, err := w.Flush()
	require.NoError(t, err)

	body := append([]byte{byte(SchemeRSA)}, ciphertext...)
	out := bundle.New()
	el := &bundle.NextElement{ID: ElemLoginRequest, Body: body, IsRequest: true, ReplyID: 1}
	require.NoError(t, s.handleElement(sess, el, out))
	require.Equal(t, StateChallengeSent, sess.State)
}
