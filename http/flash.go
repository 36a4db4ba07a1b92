package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const flashCookie = "flash"

type flashMessage struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// flashStore carries one-shot messages across a redirect in a signed cookie.
type flashStore struct {
	key []byte
}

func newFlashStore(secret string) *flashStore {
	return &flashStore{key: []byte(secret)}
}

func (f *flashStore) sign(payload string) string {
	mac := hmac.New(sha256.New, f.key)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (f *flashStore) Add(w http.ResponseWriter, r *http.Request, category, message string) {
	messages := append(f.peek(r), flashMessage{Category: category, Message: message})
	data, err := json.Marshal(messages)
	if err != nil {
		return
	}
	payload := base64.RawURLEncoding.EncodeToString(data)
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    payload + "." + f.sign(payload),
		Path:     "/",
		MaxAge:   int((5 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Pop returns the pending messages and clears the cookie.
func (f *flashStore) Pop(w http.ResponseWriter, r *http.Request) []flashMessage {
	messages := f.peek(r)
	if _, err := r.Cookie(flashCookie); err == nil {
		http.SetCookie(w, &http.Cookie{Name: flashCookie, Value: "", Path: "/", MaxAge: -1})
	}
	return messages
}

func (f *flashStore) peek(r *http.Request) []flashMessage {
	cookie, err := r.Cookie(flashCookie)
	if err != nil {
		return nil
	}
	payload, signature, ok := strings.Cut(cookie.Value, ".")
	if !ok || !hmac.Equal([]byte(signature), []byte(f.sign(payload))) {
		return nil
	}
	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil
	}
	var messages []flashMessage
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil
	}
	return messages
}
