package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// --- in-memory fakes ---

type memAccounts struct {
	mu         sync.Mutex
	nextID     int64
	byName     map[string]Account
	failCreate bool
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byName: make(map[string]Account)}
}

func (m *memAccounts) Create(_ context.Context, name, passwordHash string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return Account{}, fmt.Errorf("insert account: connection refused")
	}
	if _, ok := m.byName[name]; ok {
		return Account{}, ErrDuplicateAccount
	}
	m.nextID++
	a := Account{ID: m.nextID, Name: name, PasswordHash: passwordHash, CreatedAt: time.Now()}
	m.byName[name] = a
	return a, nil
}

func (m *memAccounts) ByName(_ context.Context, name string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byName[name]
	if !ok {
		return Account{}, ErrNoAccount
	}
	return a, nil
}

func (m *memAccounts) ByID(_ context.Context, id int64) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byName {
		if a.ID == id {
			return a, nil
		}
	}
	return Account{}, ErrNoAccount
}

type memPosts struct {
	mu       sync.Mutex
	nextID   int64
	posts    []Post
	accounts *memAccounts
	failNext bool
}

func newMemPosts(accounts *memAccounts) *memPosts {
	return &memPosts{accounts: accounts}
}

func (m *memPosts) Create(_ context.Context, p Post) (Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return Post{}, fmt.Errorf("insert post: connection reset")
	}
	m.nextID++
	p.ID = m.nextID
	// Strictly increasing timestamps keep feed ordering deterministic.
	p.CreatedAt = time.Unix(1700000000, 0).Add(time.Duration(m.nextID) * time.Second)
	m.posts = append(m.posts, p)
	return p, nil
}

func (m *memPosts) Feed(ctx context.Context) ([]FeedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]FeedItem, 0, len(m.posts))
	for _, p := range m.posts {
		owner, err := m.accounts.ByID(ctx, p.OwnerID)
		if err != nil {
			return nil, err
		}
		items = append(items, FeedItem{
			Description:   p.Description,
			CreatedAt:     p.CreatedAt,
			AccountName:   owner.Name,
			AttachmentKey: p.AttachmentKey,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (m *memPosts) All(_ context.Context) ([]Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Post, len(m.posts))
	copy(out, m.posts)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type memSessions struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemSessions() *memSessions {
	return &memSessions{data: make(map[string][]byte)}
}

func (m *memSessions) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNoSession
	}
	return v, nil
}

func (m *memSessions) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memSessions) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memSessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

type memBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	failStore bool
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte)}
}

func (m *memBlobs) Store(_ context.Context, r io.Reader, _ int64, _ string) (ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStore {
		return ObjectInfo{}, fmt.Errorf("%w: connection refused", ErrUploadFailed)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ObjectInfo{}, err
	}
	key := newObjectKey()
	m.objects[key] = data
	return ObjectInfo{Bucket: "test", Key: key, ETag: "etag-" + key[:8]}, nil
}

func (m *memBlobs) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such object: %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlobs) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// --- test harness ---

type testEnv struct {
	ts       *httptest.Server
	client   *http.Client
	accounts *memAccounts
	posts    *memPosts
	sessions *memSessions
	blobs    *memBlobs
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	return setupTestServerWithLimit(t, 0)
}

func setupTestServerWithLimit(t *testing.T, maxUpload int64) *testEnv {
	t.Helper()

	env := &testEnv{
		accounts: newMemAccounts(),
		sessions: newMemSessions(),
		blobs:    newMemBlobs(),
	}
	env.posts = newMemPosts(env.accounts)

	srv := New(Config{
		Addr:           ":0",
		SessionSecret:  "test-secret",
		SessionTTL:     time.Hour,
		MaxUploadBytes: maxUpload,
		Accounts:       env.accounts,
		Posts:          env.posts,
		Sessions:       env.sessions,
		Blobs:          env.blobs,
	})

	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)

	// Client with cookie jar that follows redirects automatically.
	jar, _ := cookiejar.New(nil)
	env.client = env.ts.Client()
	env.client.Jar = jar

	return env
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := e.client.Get(e.ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (e *testEnv) register(t *testing.T, name, password string) string {
	t.Helper()
	resp, err := e.client.PostForm(e.ts.URL+"/register", url.Values{
		"name":     {name},
		"password": {password},
	})
	if err != nil {
		t.Fatal(err)
	}
	return readBody(t, resp)
}

func (e *testEnv) login(t *testing.T, name, password string) *http.Response {
	t.Helper()
	resp, err := e.client.PostForm(e.ts.URL+"/login", url.Values{
		"name":     {name},
		"password": {password},
	})
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (e *testEnv) registerAndLogin(t *testing.T, name, password string) {
	t.Helper()
	e.register(t, name, password)
	resp := e.login(t, name, password)
	body := readBody(t, resp)
	if resp.Request.URL.Path != "/" {
		t.Fatalf("login did not land on /: %s\n%s", resp.Request.URL.Path, body)
	}
}

func (e *testEnv) logout(t *testing.T) {
	t.Helper()
	resp, err := e.client.PostForm(e.ts.URL+"/logout", url.Values{})
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, resp)
}

func (e *testEnv) createPost(t *testing.T, description string) string {
	t.Helper()
	resp, err := e.client.PostForm(e.ts.URL+"/post", url.Values{
		"description": {description},
	})
	if err != nil {
		t.Fatal(err)
	}
	return readBody(t, resp)
}

func (e *testEnv) uploadPost(t *testing.T, description, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("description", description); err != nil {
		t.Fatal(err)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	resp, err := e.client.Post(e.ts.URL+"/post", w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// --- tests ---

func TestRegisterDuplicate(t *testing.T) {
	env := setupTestServer(t)

	body := env.register(t, "alice", "hunter22")
	if !strings.Contains(body, "Account created") {
		t.Errorf("expected registration confirmation, got:\n%s", body)
	}

	// Second registration with the same name fails; the first account
	// is untouched.
	first, _ := env.accounts.ByName(context.Background(), "alice")
	body = env.register(t, "alice", "other-password")
	if !strings.Contains(body, "already taken") {
		t.Errorf("expected duplicate-account message, got:\n%s", body)
	}
	after, _ := env.accounts.ByName(context.Background(), "alice")
	if after != first {
		t.Error("duplicate registration modified the existing account")
	}
}

func TestRegisterValidation(t *testing.T) {
	env := setupTestServer(t)

	body := env.register(t, "bob", "")
	if !strings.Contains(body, "password must not be empty") {
		t.Errorf("expected empty-password message, got:\n%s", body)
	}

	body = env.register(t, "no spaces!", "secret1")
	if !strings.Contains(body, "letters, digits or underscores") {
		t.Errorf("expected name validation message, got:\n%s", body)
	}
}

func TestRegisterStoreFailureIsServerError(t *testing.T) {
	env := setupTestServer(t)
	env.accounts.failCreate = true

	resp, err := env.client.PostForm(env.ts.URL+"/register", url.Values{
		"name":     {"alice"},
		"password": {"hunter22"},
	})
	if err != nil {
		t.Fatal(err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d:\n%s", resp.StatusCode, body)
	}
	// The driver text stays in the log; the page never sees it.
	if strings.Contains(body, "connection refused") {
		t.Errorf("response leaks internal error text:\n%s", body)
	}
}

func TestLoginFailureIsUniform(t *testing.T) {
	env := setupTestServer(t)
	env.register(t, "alice", "hunter22")

	// Wrong password and unknown name produce the identical message.
	resp := env.login(t, "alice", "wrong")
	bodyWrongPass := readBody(t, resp)
	if resp.Request.URL.Path != "/login" {
		t.Errorf("failed login should land on /login, got %s", resp.Request.URL.Path)
	}

	resp = env.login(t, "nobody", "wrong")
	bodyUnknown := readBody(t, resp)

	const generic = "Invalid name or password"
	if !strings.Contains(bodyWrongPass, generic) {
		t.Errorf("wrong-password body missing generic message:\n%s", bodyWrongPass)
	}
	if !strings.Contains(bodyUnknown, generic) {
		t.Errorf("unknown-name body missing generic message:\n%s", bodyUnknown)
	}
}

func TestCheckGuardRecordsTargetURL(t *testing.T) {
	env := setupTestServer(t)
	env.register(t, "alice", "hunter22")

	// Unauthenticated /account bounces to the login form.
	resp := env.get(t, "/account")
	readBody(t, resp)
	if resp.Request.URL.Path != "/login" {
		t.Fatalf("expected redirect to /login, landed on %s", resp.Request.URL.Path)
	}

	// A successful login returns to the originally requested page.
	resp = env.login(t, "alice", "hunter22")
	body := readBody(t, resp)
	if resp.Request.URL.Path != "/account" {
		t.Fatalf("expected post-login redirect to /account, landed on %s\n%s",
			resp.Request.URL.Path, body)
	}
	if !strings.Contains(body, "alice") {
		t.Errorf("account page missing account name:\n%s", body)
	}
}

func TestCheckNotGuard(t *testing.T) {
	env := setupTestServer(t)
	env.registerAndLogin(t, "alice", "hunter22")

	resp := env.get(t, "/login")
	readBody(t, resp)
	if resp.Request.URL.Path != "/" {
		t.Errorf("authenticated /login should land on /, got %s", resp.Request.URL.Path)
	}

	resp = env.get(t, "/register")
	readBody(t, resp)
	if resp.Request.URL.Path != "/" {
		t.Errorf("authenticated /register should land on /, got %s", resp.Request.URL.Path)
	}
}

func TestCreatePostAndFeedOrdering(t *testing.T) {
	env := setupTestServer(t)
	env.registerAndLogin(t, "alice", "hunter22")

	env.createPost(t, "older post")
	body := env.createPost(t, "hello")

	if !strings.Contains(body, "hello") || !strings.Contains(body, "alice") {
		t.Errorf("feed missing new post or author:\n%s", body)
	}
	// Newest first.
	if strings.Index(body, "hello") > strings.Index(body, "older post") {
		t.Errorf("expected newest post before older post:\n%s", body)
	}

	posts, _ := env.posts.All(context.Background())
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	acct, _ := env.accounts.ByName(context.Background(), "alice")
	for _, p := range posts {
		if p.OwnerID != acct.ID {
			t.Errorf("post %d owned by %d, want %d", p.ID, p.OwnerID, acct.ID)
		}
	}
}

func TestCreatePostRequiresLogin(t *testing.T) {
	env := setupTestServer(t)

	resp, err := env.client.PostForm(env.ts.URL+"/post", url.Values{
		"description": {"sneaky"},
	})
	if err != nil {
		t.Fatal(err)
	}
	readBody(t, resp)
	if resp.Request.URL.Path != "/login" {
		t.Errorf("expected redirect to /login, landed on %s", resp.Request.URL.Path)
	}
	posts, _ := env.posts.All(context.Background())
	if len(posts) != 0 {
		t.Errorf("unauthenticated request created %d posts", len(posts))
	}
}

func TestUploadAttachment(t *testing.T) {
	env := setupTestServer(t)
	env.registerAndLogin(t, "alice", "hunter22")

	content := []byte("attachment body")
	resp := env.uploadPost(t, "with file", "notes.txt", content)
	body := readBody(t, resp)
	if resp.Request.URL.Path != "/" {
		t.Fatalf("upload did not land on /: %s\n%s", resp.Request.URL.Path, body)
	}

	posts, _ := env.posts.All(context.Background())
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}
	key := posts[0].AttachmentKey
	if key == "" {
		t.Fatal("post has no attachment key")
	}
	if !strings.Contains(body, "/file/"+key) {
		t.Errorf("feed missing attachment link for %s:\n%s", key, body)
	}

	// The attachment streams back byte-for-byte.
	dl := env.get(t, "/file/"+key)
	got := readBody(t, dl)
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status %d", dl.StatusCode)
	}
	if got != string(content) {
		t.Errorf("downloaded %q, want %q", got, content)
	}

	// Removing the object makes it unreadable.
	if err := env.blobs.Remove(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	dl = env.get(t, "/file/"+key)
	readBody(t, dl)
	if dl.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after remove, got %d", dl.StatusCode)
	}
}

func TestUploadFailureAbortsRequest(t *testing.T) {
	env := setupTestServer(t)
	env.registerAndLogin(t, "alice", "hunter22")

	env.blobs.failStore = true
	resp := env.uploadPost(t, "doomed", "notes.txt", []byte("data"))
	readBody(t, resp)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", resp.StatusCode)
	}
	posts, _ := env.posts.All(context.Background())
	if len(posts) != 0 {
		t.Errorf("failed upload still created %d posts", len(posts))
	}
}

func TestUploadOverLimitRejected(t *testing.T) {
	env := setupTestServerWithLimit(t, 1024)
	env.registerAndLogin(t, "alice", "hunter22")

	resp := env.uploadPost(t, "too big", "big.bin", bytes.Repeat([]byte("x"), 8192))
	readBody(t, resp)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", resp.StatusCode)
	}
	posts, _ := env.posts.All(context.Background())
	if len(posts) != 0 {
		t.Errorf("oversized upload still created %d posts", len(posts))
	}
	env.blobs.mu.Lock()
	stored := len(env.blobs.objects)
	env.blobs.mu.Unlock()
	if stored != 0 {
		t.Errorf("oversized upload stored %d objects", stored)
	}
}

func TestPostInsertFailureRollsBackBlob(t *testing.T) {
	env := setupTestServer(t)
	env.registerAndLogin(t, "alice", "hunter22")

	env.posts.failNext = true
	resp := env.uploadPost(t, "orphan", "notes.txt", []byte("data"))
	readBody(t, resp)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}

	env.blobs.mu.Lock()
	remaining := len(env.blobs.objects)
	env.blobs.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected stored blob to be removed on insert failure, %d left", remaining)
	}
}

func TestLogoutDestroysSession(t *testing.T) {
	env := setupTestServer(t)
	env.registerAndLogin(t, "alice", "hunter22")

	if env.sessions.count() == 0 {
		t.Fatal("expected a live session after login")
	}

	env.logout(t)
	if env.sessions.count() != 0 {
		t.Error("logout left session data in the backend")
	}

	resp := env.get(t, "/account")
	readBody(t, resp)
	if resp.Request.URL.Path != "/login" {
		t.Errorf("guarded page after logout should land on /login, got %s", resp.Request.URL.Path)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t)

	resp := env.get(t, "/health")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("unexpected health body:\n%s", body)
	}
}

func TestFeedIsPublic(t *testing.T) {
	env := setupTestServer(t)
	env.registerAndLogin(t, "alice", "hunter22")
	env.createPost(t, "visible to everyone")
	env.logout(t)

	resp := env.get(t, "/")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("feed status %d", resp.StatusCode)
	}
	if !strings.Contains(body, "visible to everyone") {
		t.Errorf("anonymous feed missing post:\n%s", body)
	}
}
