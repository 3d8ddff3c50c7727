package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags a decoded message. Request kinds equal their wire action.
type Kind string

const (
	KindPresence         Kind = "presence"
	KindChat             Kind = "message"
	KindExit             Kind = "exit"
	KindGetContacts      Kind = "get_contacts"
	KindAddContact       Kind = "add_contact"
	KindRemoveContact    Kind = "remove_contact"
	KindUsersRequest     Kind = "users_request"
	KindPublicKeyRequest Kind = "public_key_request"
	KindResponse         Kind = "response"
	KindUnknown          Kind = "unknown"
)

// Response codes
const (
	CodeOK           = 200
	CodeAccepted     = 202
	CodeUpdate       = 205
	CodeBadRequest   = 400
	CodeAuthRequired = 511
)

var ErrNotObject = errors.New("payload is not a JSON object")

type Message interface {
	Kind() Kind
}

type Presence struct {
	Time        float64
	AccountName string
	PublicKey   string
}

// Chat keeps the payload it was decoded from so the server can forward it
// byte for byte.
type Chat struct {
	From string
	To   string
	Time float64
	Text string
	Raw  []byte
}

type Exit struct {
	AccountName string
}

type GetContacts struct {
	User string
}

type AddContact struct {
	User        string
	AccountName string
}

type RemoveContact struct {
	User        string
	AccountName string
}

type UsersRequest struct {
	AccountName string
}

type PublicKeyRequest struct {
	AccountName string
}

// Response is any message carrying a "response" code, in either direction.
type Response struct {
	Code     int
	Error    string
	Data     string
	ListInfo []string
}

// Unknown is a well-formed object the router has no handler for, either
// because the action is unrecognized or a required field is missing.
type Unknown struct {
	Action string
	Reason string
}

func (*Presence) Kind() Kind         { return KindPresence }
func (*Chat) Kind() Kind             { return KindChat }
func (*Exit) Kind() Kind             { return KindExit }
func (*GetContacts) Kind() Kind      { return KindGetContacts }
func (*AddContact) Kind() Kind       { return KindAddContact }
func (*RemoveContact) Kind() Kind    { return KindRemoveContact }
func (*UsersRequest) Kind() Kind     { return KindUsersRequest }
func (*PublicKeyRequest) Kind() Kind { return KindPublicKeyRequest }
func (*Response) Kind() Kind         { return KindResponse }
func (*Unknown) Kind() Kind          { return KindUnknown }

func OK() *Response { return &Response{Code: CodeOK} }

func Update() *Response { return &Response{Code: CodeUpdate} }

func BadRequest(reason string) *Response {
	return &Response{Code: CodeBadRequest, Error: reason}
}

func List(items []string) *Response {
	if items == nil {
		items = []string{}
	}
	return &Response{Code: CodeAccepted, ListInfo: items}
}

func Challenge(data string) *Response {
	return &Response{Code: CodeAuthRequired, Data: data}
}

type wireUser struct {
	AccountName *string `json:"account_name"`
	PublicKey   *string `json:"public_key"`
}

type wireMessage struct {
	Action      *string         `json:"action"`
	Time        *float64        `json:"time"`
	User        json.RawMessage `json:"user"`
	AccountName *string         `json:"account_name"`
	From        *string         `json:"from"`
	To          *string         `json:"to"`
	Text        *string         `json:"mess_text"`
	Response    *int            `json:"response"`
	Error       string          `json:"error"`
	Data        *string         `json:"data"`
	ListInfo    []string        `json:"list_info"`
}

// Decode turns a payload into a tagged message. Only payloads that are not a
// JSON object, or whose fields have the wrong JSON type, are errors; a valid
// object the router cannot use decodes to *Unknown.
func Decode(payload []byte) (Message, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}

	var w wireMessage
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}

	if w.Action == nil {
		if w.Response != nil {
			data := ""
			if w.Data != nil {
				data = *w.Data
			}
			return &Response{Code: *w.Response, Error: w.Error, Data: data, ListInfo: w.ListInfo}, nil
		}
		return &Unknown{Reason: "no action"}, nil
	}

	action := *w.Action
	missing := func(field string) Message {
		return &Unknown{Action: action, Reason: "missing " + field}
	}

	switch Kind(action) {
	case KindPresence:
		if w.Time == nil {
			return missing("time"), nil
		}
		var u wireUser
		if len(w.User) == 0 || json.Unmarshal(w.User, &u) != nil || u.AccountName == nil {
			return missing("user"), nil
		}
		p := &Presence{Time: *w.Time, AccountName: *u.AccountName}
		if u.PublicKey != nil {
			p.PublicKey = *u.PublicKey
		}
		return p, nil

	case KindChat:
		switch {
		case w.From == nil:
			return missing("from"), nil
		case w.To == nil:
			return missing("to"), nil
		case w.Time == nil:
			return missing("time"), nil
		case w.Text == nil:
			return missing("mess_text"), nil
		}
		raw := make([]byte, len(trimmed))
		copy(raw, trimmed)
		return &Chat{From: *w.From, To: *w.To, Time: *w.Time, Text: *w.Text, Raw: raw}, nil

	case KindExit:
		if w.AccountName == nil {
			return missing("account_name"), nil
		}
		return &Exit{AccountName: *w.AccountName}, nil

	case KindGetContacts:
		user, ok := userName(w.User)
		if !ok {
			return missing("user"), nil
		}
		return &GetContacts{User: user}, nil

	case KindAddContact, KindRemoveContact:
		user, ok := userName(w.User)
		if !ok {
			return missing("user"), nil
		}
		if w.AccountName == nil {
			return missing("account_name"), nil
		}
		if Kind(action) == KindAddContact {
			return &AddContact{User: user, AccountName: *w.AccountName}, nil
		}
		return &RemoveContact{User: user, AccountName: *w.AccountName}, nil

	case KindUsersRequest:
		if w.AccountName == nil {
			return missing("account_name"), nil
		}
		return &UsersRequest{AccountName: *w.AccountName}, nil

	case KindPublicKeyRequest:
		if w.AccountName == nil {
			return missing("account_name"), nil
		}
		return &PublicKeyRequest{AccountName: *w.AccountName}, nil
	}

	return &Unknown{Action: action, Reason: "unknown action"}, nil
}

// userName reads the "user" field when it carries a plain account name.
func userName(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Encode renders a message as a JSON object. A Chat decoded from the wire is
// returned as received.
func Encode(m Message) ([]byte, error) {
	var obj map[string]any

	switch v := m.(type) {
	case *Presence:
		obj = map[string]any{
			"action": KindPresence,
			"time":   v.Time,
			"user":   map[string]string{"account_name": v.AccountName, "public_key": v.PublicKey},
		}
	case *Chat:
		if v.Raw != nil {
			return v.Raw, nil
		}
		obj = map[string]any{
			"action":    KindChat,
			"from":      v.From,
			"to":        v.To,
			"time":      v.Time,
			"mess_text": v.Text,
		}
	case *Exit:
		obj = map[string]any{"action": KindExit, "account_name": v.AccountName}
	case *GetContacts:
		obj = map[string]any{"action": KindGetContacts, "user": v.User}
	case *AddContact:
		obj = map[string]any{"action": KindAddContact, "user": v.User, "account_name": v.AccountName}
	case *RemoveContact:
		obj = map[string]any{"action": KindRemoveContact, "user": v.User, "account_name": v.AccountName}
	case *UsersRequest:
		obj = map[string]any{"action": KindUsersRequest, "account_name": v.AccountName}
	case *PublicKeyRequest:
		obj = map[string]any{"action": KindPublicKeyRequest, "account_name": v.AccountName}
	case *Response:
		obj = map[string]any{"response": v.Code}
		if v.Error != "" {
			obj["error"] = v.Error
		}
		if v.Data != "" {
			obj["data"] = v.Data
		}
		if v.ListInfo != nil || v.Code == CodeAccepted {
			items := v.ListInfo
			if items == nil {
				items = []string{}
			}
			obj["list_info"] = items
		}
	case *Unknown:
		obj = map[string]any{}
		if v.Action != "" {
			obj["action"] = v.Action
		}
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", m)
	}

	return json.Marshal(obj)
}
