// session.go - Cache-backed session store.
//
// The browser cookie carries only an opaque session ID, signed with
// securecookie; session values live in the cache under that ID and
// expire with the store's TTL.
package server

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
)

func init() {
	gob.Register([]interface{}{})
}

// ErrNoSession is returned by a SessionBackend when the key is absent
// or already expired.
var ErrNoSession = errors.New("no session")

// SessionBackend is the minimal key-value surface the session store
// needs from the cache service.
type SessionBackend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type redisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps a redis client as a SessionBackend.
func NewRedisBackend(client *redis.Client) SessionBackend {
	return &redisBackend{client: client}
}

func (b *redisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNoSession
	}
	return v, err
}

func (b *redisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, key, value, ttl).Err()
}

func (b *redisBackend) Del(ctx context.Context, key string) error {
	return b.client.Del(ctx, key).Err()
}

const sessionKeyPrefix = "session:"

// RedisStore implements sessions.Store on top of a SessionBackend.
// It performs no serialization beyond gob-encoding the session values
// the middleware hands it.
type RedisStore struct {
	backend SessionBackend
	codecs  []securecookie.Codec
	options sessions.Options
	ttl     time.Duration
}

// NewSessionStore builds a RedisStore signing cookies with secret.
func NewSessionStore(backend SessionBackend, secret []byte, ttl time.Duration) *RedisStore {
	return &RedisStore{
		backend: backend,
		codecs:  securecookie.CodecsFromPairs(secret),
		options: sessions.Options{
			Path:     "/",
			MaxAge:   int(ttl / time.Second),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
		ttl: ttl,
	}
}

// Get returns the cached session for this request, loading it once.
func (s *RedisStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New loads the session named by the request cookie, or returns a
// fresh one when the cookie is missing, invalid, or expired.
func (s *RedisStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := s.options
	session.Options = &opts
	session.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}
	var id string
	if err := securecookie.DecodeMulti(name, c.Value, &id, s.codecs...); err != nil {
		return session, nil
	}
	session.ID = id

	data, err := s.backend.Get(r.Context(), sessionKeyPrefix+id)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return session, nil
		}
		return session, err
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&session.Values); err != nil {
		return session, err
	}
	session.IsNew = false
	return session, nil
}

// Save upserts the session values in the cache and refreshes the
// cookie. A session saved with MaxAge < 0 is destroyed instead.
func (s *RedisStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	if session.Options.MaxAge < 0 {
		if session.ID != "" {
			if err := s.backend.Del(r.Context(), sessionKeyPrefix+session.ID); err != nil {
				return err
			}
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		session.ID = uuid.NewString()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(session.Values); err != nil {
		return err
	}
	if err := s.backend.Set(r.Context(), sessionKeyPrefix+session.ID, buf.Bytes(), s.ttl); err != nil {
		return err
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return err
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}
