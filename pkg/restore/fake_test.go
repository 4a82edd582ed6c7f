package restore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/xmatters-labs/restore-instance-data/pkg/xmapi"
)

// fakeXM is an in-memory stand-in for the xMatters REST API.
type fakeXM struct {
	mu  sync.Mutex
	seq int

	sites   map[string]string
	people  map[string]string
	groups  map[string]string
	devices map[string]string

	peopleByID  map[string]string
	supervisors map[string][]string
	shifts      map[string]map[string]string
	members     map[string][]string
	bodies      map[string][]byte

	// shiftCreateStatus overrides the status of a shift create when non-zero.
	shiftCreateStatus int

	calls []string
}

func newFakeXM() *fakeXM {
	return &fakeXM{
		sites:       map[string]string{},
		people:      map[string]string{},
		groups:      map[string]string{},
		devices:     map[string]string{},
		peopleByID:  map[string]string{},
		supervisors: map[string][]string{},
		shifts:      map[string]map[string]string{},
		members:     map[string][]string{},
		bodies:      map[string][]byte{},
	}
}

func (f *fakeXM) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/xm/1/sites", func(w http.ResponseWriter, r *http.Request) {
		f.upsert(w, r, f.sites, "name", "site:")
	})
	mux.HandleFunc("GET /api/xm/1/sites/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.get(w, f.sites, r.PathValue("name"))
	})
	mux.HandleFunc("POST /api/xm/1/people", func(w http.ResponseWriter, r *http.Request) {
		f.postPerson(w, r)
	})
	mux.HandleFunc("GET /api/xm/1/people/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.get(w, f.people, r.PathValue("name"))
	})
	mux.HandleFunc("POST /api/xm/1/devices", func(w http.ResponseWriter, r *http.Request) {
		f.postDevice(w, r)
	})
	mux.HandleFunc("GET /api/xm/1/devices/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.get(w, f.devices, r.PathValue("name"))
	})
	mux.HandleFunc("POST /api/xm/1/groups", func(w http.ResponseWriter, r *http.Request) {
		f.upsert(w, r, f.groups, "targetName", "group:")
	})
	mux.HandleFunc("GET /api/xm/1/groups/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.get(w, f.groups, r.PathValue("name"))
	})
	mux.HandleFunc("DELETE /api/xm/1/groups/{gid}/shifts/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		gs := f.shifts[r.PathValue("gid")]
		if _, ok := gs[r.PathValue("name")]; !ok {
			writeJSON(w, http.StatusNotFound, `{"code":404,"reason":"Not Found","message":"no such shift"}`)
			return
		}
		delete(gs, r.PathValue("name"))
		writeJSON(w, http.StatusOK, `{}`)
	})
	mux.HandleFunc("POST /api/xm/1/groups/{gid}/shifts", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.shiftCreateStatus != 0 {
			w.WriteHeader(f.shiftCreateStatus)
			return
		}
		gid := r.PathValue("gid")
		name := gjson.GetBytes(body, "name").String()
		if f.shifts[gid] == nil {
			f.shifts[gid] = map[string]string{}
		}
		id := f.nextID("shift:")
		f.shifts[gid][name] = id
		f.bodies["shift:"+name] = body
		writeJSON(w, http.StatusCreated, fmt.Sprintf(`{"id":%q,"name":%q}`, id, name))
	})
	mux.HandleFunc("POST /api/xm/1/groups/{gid}/shifts/{name}/members", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		key := r.PathValue("gid") + "|" + r.PathValue("name")
		rid := gjson.GetBytes(body, "recipient.id").String()
		for _, existing := range f.members[key] {
			if existing == rid {
				writeJSON(w, http.StatusConflict, `{"code":409,"reason":"Conflict","message":"already a member"}`)
				return
			}
		}
		f.members[key] = append(f.members[key], rid)
		writeJSON(w, http.StatusCreated, fmt.Sprintf(`{"recipient":{"id":%q}}`, rid))
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.EscapedPath())
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	})
}

func (f *fakeXM) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", strings.TrimSuffix(prefix, ":"), f.seq)
}

func (f *fakeXM) upsert(w http.ResponseWriter, r *http.Request, store map[string]string, keyField, prefix string) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.write(w, body, store, gjson.GetBytes(body, keyField).String(), prefix)
}

// write stores body under key. A body without id on a taken key conflicts.
func (f *fakeXM) write(w http.ResponseWriter, body []byte, store map[string]string, key, prefix string) string {
	f.bodies[prefix+key] = body
	id := gjson.GetBytes(body, "id").String()
	if existing, ok := store[key]; ok {
		if id == "" {
			writeJSON(w, http.StatusConflict, `{"code":409,"reason":"Conflict","message":"name already in use"}`)
			return ""
		}
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"id":%q}`, existing))
		return existing
	}
	id = f.nextID(prefix)
	store[key] = id
	writeJSON(w, http.StatusCreated, fmt.Sprintf(`{"id":%q}`, id))
	return id
}

func (f *fakeXM) postPerson(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	name := gjson.GetBytes(body, "targetName").String()
	if sup := gjson.GetBytes(body, "supervisors"); sup.Exists() && len(sup.Array()) > 0 {
		ids := make([]string, 0)
		for _, v := range sup.Array() {
			ids = append(ids, v.String())
		}
		f.supervisors[name] = ids
		writeJSON(w, http.StatusOK, fmt.Sprintf(`{"id":%q}`, f.people[name]))
		return
	}
	if id := f.write(w, body, f.people, name, "person:"); id != "" {
		f.peopleByID[id] = name
	}
}

func (f *fakeXM) postDevice(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.peopleByID[gjson.GetBytes(body, "owner").String()]
	if !ok {
		writeJSON(w, http.StatusBadRequest, `{"code":400,"reason":"Bad Request","message":"unknown owner"}`)
		return
	}
	f.write(w, body, f.devices, DeviceKey(owner, gjson.GetBytes(body, "name").String()), "device:")
}

func (f *fakeXM) get(w http.ResponseWriter, store map[string]string, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := store[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, `{"code":404,"reason":"Not Found","message":"not found"}`)
		return
	}
	writeJSON(w, http.StatusOK, fmt.Sprintf(`{"id":%q}`, id))
}

// count returns how many calls start with prefix, e.g. "POST /api/xm/1/devices".
func (f *fakeXM) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

type harness struct {
	fake   *fakeXM
	api    *xmapi.Client
	logger *logrus.Entry
	hook   *test.Hook
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := newFakeXM()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	logger := logrus.NewEntry(base)

	api, err := xmapi.New(xmapi.Options{
		BaseURL:  srv.URL,
		User:     "restorer",
		Password: "secret",
		Logger:   logger,
		Retry:    xmapi.RetryPolicy{BaseDelay: time.Millisecond, MaxAttempts: 3},
		Sleep:    func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	require.NoError(t, err)
	return &harness{fake: fake, api: api, logger: logger, hook: hook}
}

func (h *harness) session() *Session {
	return NewSession(h.api, h.logger, "Default Shift")
}

func (h *harness) messages(level logrus.Level) []string {
	var out []string
	for _, e := range h.hook.AllEntries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

func writeCapture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
