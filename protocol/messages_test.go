package protocol

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDecodeRequests(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Message
	}{
		{
			name:    "presence",
			payload: `{"action":"presence","time":1.5,"user":{"account_name":"alice","public_key":"KEY"}}`,
			want:    &Presence{Time: 1.5, AccountName: "alice", PublicKey: "KEY"},
		},
		{
			name:    "presence without key",
			payload: `{"action":"presence","time":1,"user":{"account_name":"alice"}}`,
			want:    &Presence{Time: 1, AccountName: "alice"},
		},
		{
			name:    "exit",
			payload: `{"action":"exit","time":1,"account_name":"alice"}`,
			want:    &Exit{AccountName: "alice"},
		},
		{
			name:    "get contacts",
			payload: `{"action":"get_contacts","time":1,"user":"alice"}`,
			want:    &GetContacts{User: "alice"},
		},
		{
			name:    "add contact",
			payload: `{"action":"add_contact","time":1,"user":"alice","account_name":"bob"}`,
			want:    &AddContact{User: "alice", AccountName: "bob"},
		},
		{
			name:    "remove contact",
			payload: `{"action":"remove_contact","time":1,"user":"alice","account_name":"bob"}`,
			want:    &RemoveContact{User: "alice", AccountName: "bob"},
		},
		{
			name:    "users request",
			payload: `{"action":"users_request","time":1,"account_name":"alice"}`,
			want:    &UsersRequest{AccountName: "alice"},
		},
		{
			name:    "public key request",
			payload: `{"action":"public_key_request","time":1,"account_name":"bob"}`,
			want:    &PublicKeyRequest{AccountName: "bob"},
		},
		{
			name:    "challenge answer",
			payload: `{"response":511,"data":"ZGlnZXN0"}`,
			want:    &Response{Code: CodeAuthRequired, Data: "ZGlnZXN0"},
		},
		{
			name:    "unknown action",
			payload: `{"action":"dance"}`,
			want:    &Unknown{Action: "dance", Reason: "unknown action"},
		},
		{
			name:    "presence missing user",
			payload: `{"action":"presence","time":1}`,
			want:    &Unknown{Action: "presence", Reason: "missing user"},
		},
		{
			name:    "presence with string user",
			payload: `{"action":"presence","time":1,"user":"alice"}`,
			want:    &Unknown{Action: "presence", Reason: "missing user"},
		},
		{
			name:    "contacts with object user",
			payload: `{"action":"get_contacts","user":{"account_name":"alice"}}`,
			want:    &Unknown{Action: "get_contacts", Reason: "missing user"},
		},
		{
			name:    "no action",
			payload: `{"time":1}`,
			want:    &Unknown{Reason: "no action"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeChatKeepsRaw(t *testing.T) {
	payload := []byte(`{"action":"message","from":"alice","to":"bob","time":2,"mess_text":"hi","extra":true}`)
	msg, err := Decode(payload)
	require.NoError(t, err)

	chat, ok := msg.(*Chat)
	require.True(t, ok)
	assert.Equal(t, "alice", chat.From)
	assert.Equal(t, "bob", chat.To)
	assert.Equal(t, "hi", chat.Text)

	out, err := Encode(chat)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestDecodeErrors(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`[1,2,3]`,
		`"presence"`,
		`{"action":"message","from":"a","to":5,"time":1,"mess_text":"x"}`,
		`{"action":7}`,
		`{"action":"presence"`,
	} {
		_, err := Decode([]byte(payload))
		assert.Error(t, err, payload)
	}
}

func TestEncodeResponses(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
		want string
	}{
		{"ok", OK(), `{"response":200}`},
		{"update", Update(), `{"response":205}`},
		{"bad request", BadRequest("bad request"), `{"error":"bad request","response":400}`},
		{"empty list", List(nil), `{"list_info":[],"response":202}`},
		{"list", List([]string{"bob", "carol"}), `{"list_info":["bob","carol"],"response":202}`},
		{"challenge", Challenge("abcd"), `{"data":"abcd","response":511}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.resp)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestEncodeDecodeRequests(t *testing.T) {
	msgs := []Message{
		&Presence{Time: 3, AccountName: "alice", PublicKey: "PEM"},
		&Exit{AccountName: "alice"},
		&GetContacts{User: "alice"},
		&AddContact{User: "alice", AccountName: "bob"},
		&RemoveContact{User: "alice", AccountName: "bob"},
		&UsersRequest{AccountName: "alice"},
		&PublicKeyRequest{AccountName: "bob"},
	}
	for _, m := range msgs {
		t.Run(string(m.Kind()), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteMessage(&buf, m))
			got, err := ReadMessage(&buf)
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}

// TestChatTextSurvivesEncoding checks arbitrary text, including quotes and
// control characters, comes back unchanged.
func TestChatTextSurvivesEncoding(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		from := rapid.StringN(1, 32, -1).Draw(t, "from")

		payload, err := Encode(&Chat{From: from, To: "bob", Time: 1, Text: text})
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if !json.Valid(payload) {
			t.Fatalf("invalid json %q", payload)
		}
		msg, err := Decode(payload)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		chat, ok := msg.(*Chat)
		if !ok {
			t.Fatalf("decoded %T", msg)
		}
		if chat.Text != text || chat.From != from {
			t.Fatalf("got from=%q text=%q", chat.From, chat.Text)
		}
	})
}
