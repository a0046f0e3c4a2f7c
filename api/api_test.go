// Copyright (C) 2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/crypto"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/cipherboard"
	"github.com/luxfi/cipherboard/crypto/fhe"
	"github.com/luxfi/cipherboard/database"
	"github.com/luxfi/cipherboard/metrics"
	"github.com/luxfi/cipherboard/precompile"
	"github.com/luxfi/cipherboard/relayer"
)

const testNonce = "0123456789abcdef-nonce"

type testEnv struct {
	server *httptest.Server
	node   *relayer.Node
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{now: time.Now()}
	clock := func() time.Time { return env.now }

	keys, err := fhe.GenerateKeySet()
	require.NoError(t, err)
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	node, err := relayer.NewNode(relayer.NodeConfig{
		DB:      database.NewMemDB(),
		Keys:    keys,
		ChainID: ids.GenerateTestID(),
		Metrics: m,
		Clock:   clock,
	}, log.NewNoOpLogger())
	require.NoError(t, err)

	env.node = node
	env.server = httptest.NewServer(NewRouter(node.Gateway, m, Options{
		AuthWindow: 30 * time.Second,
		Clock:      clock,
		Gatherer:   registry,
	}, log.NewNoOpLogger()))
	t.Cleanup(func() {
		env.server.Close()
		_ = node.Close()
	})
	return env
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func address(key *ecdsa.PrivateKey) common.Address {
	return common.Address(crypto.PubkeyToAddress(key.PublicKey))
}

// do sends a request and decodes a JSON response into out. A nil key sends
// the request unsigned.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}, key *ecdsa.PrivateKey, nonce string, out interface{}) int {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(method, e.server.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	if key != nil {
		require.NoError(t, SignRequest(req, key, raw, nonce, e.now))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) encrypt(t *testing.T, contract, user common.Address, build func(*fhe.InputBuilder)) relayer.InputProof {
	t.Helper()
	var info relayer.NetworkInfo
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, NetworkPath, nil, nil, "", &info))
	networkKey := [32]byte(info.NetworkKey)
	b := fhe.NewInputBuilder(&networkKey, contract, user)
	build(b)
	in, err := b.Encrypt()
	require.NoError(t, err)

	var proof relayer.InputProof
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, InputsPath, in, nil, "", &proof))
	return proof
}

func (e *testEnv) transmitRequest(t *testing.T, sender *ecdsa.PrivateKey, recipient common.Address, text string) TransmitRequest {
	t.Helper()
	v, err := cipherboard.EncodeContent(text)
	require.NoError(t, err)
	proof := e.encrypt(t, precompile.CipherBoardAddress, address(sender), func(b *fhe.InputBuilder) { b.Add256(v) })
	return TransmitRequest{Recipient: recipient, Content: proof.Handles[0], Proof: proof.Proof}
}

func TestNetworkAndHealth(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	var info relayer.NetworkInfo
	require.Equal(http.StatusOK, env.do(t, http.MethodGet, NetworkPath, nil, nil, "", &info))
	require.Equal(env.node.Coprocessor.ChainID(), info.ChainID)
	require.Equal(precompile.CipherBoardAddress, info.CipherBoard)

	require.Equal(http.StatusOK, env.do(t, http.MethodGet, HealthPath, nil, nil, "", nil))

	resp, err := http.Get(env.server.URL + MetricsPath)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)
}

func TestTransmitAndRead(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	alice, bob, carol := newKey(t), newKey(t), newKey(t)

	var result relayer.TransmitResult
	status := env.do(t, http.MethodPost, MessagesPath, env.transmitRequest(t, alice, address(bob), "hello"), alice, testNonce, &result)
	require.Equal(http.StatusCreated, status)
	require.Zero(result.MessageID)
	require.Equal(uint64(1), result.Receipt.BlockNumber)

	var count CountResponse
	require.Equal(http.StatusOK, env.do(t, http.MethodGet, MessageCountPath, nil, nil, "", &count))
	require.Equal(uint64(1), count.Count)

	var msg cipherboard.Message
	require.Equal(http.StatusOK, env.do(t, http.MethodGet, MessagePath(0), nil, nil, "", &msg))
	require.Equal(address(alice), msg.Sender)
	require.Equal(address(bob), msg.Recipient)

	var content ContentResponse
	require.Equal(http.StatusOK, env.do(t, http.MethodGet, MessagePath(0)+"/content", nil, nil, "", &content))
	require.Equal(msg.Content, content.Content)

	var sent, received MessageIDsResponse
	require.Equal(http.StatusOK, env.do(t, http.MethodGet, SenderMessagesPath(address(alice)), nil, nil, "", &sent))
	require.Equal([]uint64{0}, sent.MessageIDs)
	require.Equal(http.StatusOK, env.do(t, http.MethodGet, RecipientMessagesPath(address(alice)), nil, nil, "", &received))
	require.Empty(received.MessageIDs)

	// The recipient decrypts.
	session, err := fhe.NewDecryptSession(bob, env.node.Coprocessor.ChainID(), precompile.CipherBoardAddress, []fhe.Handle{msg.Content}, env.now, 1)
	require.NoError(err)
	var decrypted DecryptResponse
	require.Equal(http.StatusOK, env.do(t, http.MethodPost, DecryptPath, session.Request(), nil, "", &decrypted))
	values, err := session.Open(decrypted.Results)
	require.NoError(err)
	require.Equal("hello", cipherboard.DecodeContent(values[msg.Content]))

	// A third party is refused.
	session, err = fhe.NewDecryptSession(carol, env.node.Coprocessor.ChainID(), precompile.CipherBoardAddress, []fhe.Handle{msg.Content}, env.now, 1)
	require.NoError(err)
	var failure ErrorResponse
	require.Equal(http.StatusForbidden, env.do(t, http.MethodPost, DecryptPath, session.Request(), nil, "", &failure))
	require.Equal(cipherboard.CodeNotAuthorized, failure.Error.Code)
}

func TestErrors(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := newKey(t), newKey(t)
	valid := env.transmitRequest(t, alice, address(bob), "x")
	toNobody := valid
	toNobody.Recipient = common.Address{}

	tests := []struct {
		name       string
		method     string
		path       string
		body       interface{}
		key        *ecdsa.PrivateKey
		wantStatus int
		wantCode   int32
	}{
		{"unknown message", http.MethodGet, MessagePath(5), nil, nil, http.StatusNotFound, cipherboard.CodeNotFound},
		{"unknown content", http.MethodGet, MessagePath(5) + "/content", nil, nil, http.StatusNotFound, cipherboard.CodeNotFound},
		{"malformed id", http.MethodGet, MessagesPath + "/abc", nil, nil, http.StatusBadRequest, cipherboard.CodeInvalidRequest},
		{"malformed address", http.MethodGet, "/v1/senders/0x12/messages", nil, nil, http.StatusBadRequest, cipherboard.CodeInvalidRequest},
		{"unsigned transmit", http.MethodPost, MessagesPath, valid, nil, http.StatusUnauthorized, cipherboard.CodeUnauthenticated},
		{"zero recipient", http.MethodPost, MessagesPath, toNobody, alice, http.StatusBadRequest, cipherboard.CodeInvalidRecipient},
		{"proof for another sender", http.MethodPost, MessagesPath, valid, bob, http.StatusUnprocessableEntity, cipherboard.CodeInvalidProof},
		{"malformed input", http.MethodPost, InputsPath, map[string]string{"ciphertexts": "nope"}, nil, http.StatusBadRequest, cipherboard.CodeInvalidRequest},
	}
	for i, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var failure ErrorResponse
			status := env.do(t, test.method, test.path, test.body, test.key, testNonce+strconv.Itoa(i), &failure)
			require.Equal(t, test.wantStatus, status)
			require.Equal(t, test.wantCode, failure.Error.Code)
		})
	}

	var count CountResponse
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, MessageCountPath, nil, nil, "", &count))
	require.Zero(t, count.Count)
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := newKey(t), newKey(t)
	body := env.transmitRequest(t, alice, address(bob), "auth")
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	signed := func(t *testing.T, nonce string, at time.Time) *http.Request {
		req, err := http.NewRequest(http.MethodPost, env.server.URL+MessagesPath, bytes.NewReader(raw))
		require.NoError(t, err)
		require.NoError(t, SignRequest(req, alice, raw, nonce, at))
		return req
	}
	send := func(t *testing.T, req *http.Request) int {
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	t.Run("stale timestamp", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, send(t, signed(t, testNonce+"stale", env.now.Add(-time.Minute))))
	})
	t.Run("short nonce", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, send(t, signed(t, "short", env.now)))
	})
	t.Run("impersonation", func(t *testing.T) {
		req := signed(t, testNonce+"imp", env.now)
		req.Header.Set(AccountHeader, address(bob).Hex())
		require.Equal(t, http.StatusUnauthorized, send(t, req))
	})
	t.Run("tampered body", func(t *testing.T) {
		tampered := strings.Replace(string(raw), strings.ToLower(body.Recipient.Hex()[2:]), strings.Repeat("1", 40), 1)
		req, err := http.NewRequest(http.MethodPost, env.server.URL+MessagesPath, strings.NewReader(tampered))
		require.NoError(t, err)
		require.NoError(t, SignRequest(req, alice, raw, testNonce+"tamper", env.now))
		require.Equal(t, http.StatusUnauthorized, send(t, req))
	})
	t.Run("replay", func(t *testing.T) {
		require.Equal(t, http.StatusCreated, send(t, signed(t, testNonce+"once", env.now)))
		require.Equal(t, http.StatusUnauthorized, send(t, signed(t, testNonce+"once", env.now)))
	})
}

func TestSecureCounter(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	alice := newKey(t)

	var value CounterResponse
	require.Equal(http.StatusOK, env.do(t, http.MethodGet, CounterPath, nil, nil, "", &value))
	require.True(value.Value.IsZero())

	proof := env.encrypt(t, precompile.SecureCounterAddress, address(alice), func(b *fhe.InputBuilder) { b.Add32(9) })
	var result relayer.CounterResult
	status := env.do(t, http.MethodPost, CounterIncreasePath, CounterUpdateRequest{Amount: proof.Handles[0], Proof: proof.Proof}, alice, testNonce, &result)
	require.Equal(http.StatusOK, status)
	require.Equal(fhe.EUint32, result.Value.Type())

	proof = env.encrypt(t, precompile.SecureCounterAddress, address(alice), func(b *fhe.InputBuilder) { b.Add32(4) })
	status = env.do(t, http.MethodPost, CounterDecreasePath, CounterUpdateRequest{Amount: proof.Handles[0], Proof: proof.Proof}, alice, testNonce+"2", &result)
	require.Equal(http.StatusOK, status)

	session, err := fhe.NewDecryptSession(alice, env.node.Coprocessor.ChainID(), precompile.SecureCounterAddress, []fhe.Handle{result.Value}, env.now, 1)
	require.NoError(err)
	var decrypted DecryptResponse
	require.Equal(http.StatusOK, env.do(t, http.MethodPost, DecryptPath, session.Request(), nil, "", &decrypted))
	values, err := session.Open(decrypted.Results)
	require.NoError(err)
	require.Equal(uint64(5), values[result.Value].Uint64())
}

func TestEvents(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	alice, bob, carol := newKey(t), newKey(t), newKey(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + EventsPath + "?" + RecipientParam + "=" + address(bob).Hex()
	conn, resp, err := websocket.DefaultDialer.DialContext(context.Background(), wsURL, nil)
	require.NoError(err)
	resp.Body.Close()
	defer conn.Close()

	// Subscription happens after the upgrade; wait for it before sending.
	require.Eventually(func() bool { return streamOpen(env) }, 5*time.Second, 10*time.Millisecond)

	toCarol := env.transmitRequest(t, alice, address(carol), "not for bob")
	require.Equal(http.StatusCreated, env.do(t, http.MethodPost, MessagesPath, toCarol, alice, testNonce+"c", nil))
	toBob := env.transmitRequest(t, alice, address(bob), "for bob")
	require.Equal(http.StatusCreated, env.do(t, http.MethodPost, MessagesPath, toBob, alice, testNonce+"b", nil))

	require.NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	var event cipherboard.TransmittedEvent
	require.NoError(conn.ReadJSON(&event))
	require.Equal(uint64(1), event.MessageID)
	require.Equal(address(alice), event.Sender)
	require.Equal(address(bob), event.Recipient)

	status := env.do(t, http.MethodGet, EventsPath+"?"+SenderParam+"=nope", nil, nil, "", nil)
	require.Equal(http.StatusBadRequest, status)
}

// streamOpen reports whether an event stream is registered, read from the
// subscriber gauge.
func streamOpen(env *testEnv) bool {
	resp, err := http.Get(env.server.URL + MetricsPath)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return false
	}
	return strings.Contains(buf.String(), "cipherboard_event_subscribers 1")
}
