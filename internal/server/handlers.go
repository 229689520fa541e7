// handlers.go - HTTP handlers for the feed, posts, and auth pages.
package server

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// GET / — feed of all posts joined with their owner's name, newest first.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	posts, err := s.posts.Feed(r.Context())
	if err != nil {
		log.Printf("rid=%s msg=feed_query_failed err=%v", RequestIDFromContext(r.Context()), err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	s.views.render(w, r, "index", map[string]interface{}{
		"Posts": posts,
	})
}

// GET /account — the current user's account page.
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	s.views.render(w, r, "account", nil)
}

// GET /post — unfiltered list of posts plus the new-post form.
func (s *Server) handlePostList(w http.ResponseWriter, r *http.Request) {
	posts, err := s.posts.All(r.Context())
	if err != nil {
		log.Printf("rid=%s msg=post_query_failed err=%v", RequestIDFromContext(r.Context()), err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	s.views.render(w, r, "post", map[string]interface{}{
		"Posts": posts,
	})
}

// POST /post — create a post owned by the current account, with an
// optional single file attachment.
func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	acct := s.auth.CurrentAccount(r)
	if acct == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}

	rid := RequestIDFromContext(r.Context())
	post := Post{
		OwnerID:     acct.ID,
		Description: r.FormValue("description"),
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil && header.Filename != "":
		obj, storeErr := s.blobs.Store(r.Context(), file, header.Size,
			header.Header.Get("Content-Type"))
		_ = file.Close()
		if storeErr != nil {
			log.Printf("rid=%s msg=upload_failed err=%v", rid, storeErr)
			http.Error(w, "upload failed", http.StatusBadGateway)
			return
		}
		log.Printf("rid=%s msg=file_stored bucket=%s key=%s etag=%s", rid, obj.Bucket, obj.Key, obj.ETag)
		post.AttachmentBucket = obj.Bucket
		post.AttachmentKey = obj.Key
		post.AttachmentETag = obj.ETag
	case err == nil:
		// File field present but empty; not an attachment.
		_ = file.Close()
	case errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart):
		// Plain text post.
	default:
		// MaxBytesReader trips during the multipart parse, so an
		// oversized body surfaces here rather than from the store.
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	created, err := s.posts.Create(r.Context(), post)
	if err != nil {
		log.Printf("rid=%s msg=post_insert_failed err=%v", rid, err)
		// The blob is orphaned unless we remove it ourselves.
		if post.AttachmentKey != "" {
			if rmErr := s.blobs.Remove(r.Context(), post.AttachmentKey); rmErr != nil {
				log.Printf("rid=%s msg=attachment_rollback_failed key=%s err=%v", rid, post.AttachmentKey, rmErr)
			}
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	log.Printf("rid=%s msg=post_created post_id=%d owner_id=%d", rid, created.ID, created.OwnerID)
	http.Redirect(w, r, "/", http.StatusFound)
}

// GET /file/{key} — stream a post attachment from the object store.
func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if _, err := uuid.Parse(key); err != nil {
		http.NotFound(w, r)
		return
	}

	obj, err := s.blobs.Open(r.Context(), key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, obj); err != nil {
		log.Printf("rid=%s msg=download_stream_failed key=%s err=%v",
			RequestIDFromContext(r.Context()), key, err)
	}
}

// GET /register — registration form.
func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	s.views.render(w, r, "register", nil)
}

// POST /register — create the account, then send the user to /login.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("name")
	password := r.FormValue("password")

	_, err := s.auth.RegisterUser(r.Context(), name, password)
	if err != nil {
		// Only duplicate-name and validation failures are shown to the
		// user; anything else is an internal error.
		var vErr ValidationError
		switch {
		case errors.Is(err, ErrDuplicateAccount):
			vErr = "That account name is already taken"
		case errors.As(err, &vErr):
		default:
			log.Printf("rid=%s msg=register_failed err=%v",
				RequestIDFromContext(r.Context()), err)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		session, _ := s.store.Get(r, sessionName)
		session.AddFlash(string(vErr))
		_ = session.Save(r, w)
		http.Redirect(w, r, "/register", http.StatusFound)
		return
	}

	session, _ := s.store.Get(r, sessionName)
	session.AddFlash("Account created, you can log in now")
	_ = session.Save(r, w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// GET /login — login form.
func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.views.render(w, r, "login", nil)
}

// POST /login — authenticate and redirect to the stored target URL.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	target := s.auth.TargetURL(w, r)
	s.auth.Authenticate(w, r, AuthRedirects{
		Success: target,
		Failure: "/login",
	})
}

// POST /logout — destroy the session and bounce to the referrer.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Logout(w, r)
}
