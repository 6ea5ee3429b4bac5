// Package locker provides an HTTP middleware which allows an HTTPHandler to be locked, returning 423 (locked)
package locker

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strings"
	"sync"

	"github.com/amsikking/asi-MS-2000-500-CP/generichttp"
)

// ManipulableLock is a lock which serves as HTTP middleware and can be
// queried and flipped over HTTP itself
type ManipulableLock interface {
	// Check is the middleware hook, bouncing requests with 423 while locked
	Check(http.Handler) http.Handler

	// HTTPGet returns the lock state over HTTP as JSON
	HTTPGet(w http.ResponseWriter, r *http.Request)

	// HTTPSet sets the lock state from json:bool on the request body
	HTTPSet(w http.ResponseWriter, r *http.Request)
}

// Inject adds a lock route to a generichttp.HTTPer which is used to manipulate the lock
func Inject(other generichttp.HTTPer, l ManipulableLock) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Locker is a type which behaves like a sync.Mutex without the blocking,
// and holds a list of route fragments to not protect
type Locker struct {
	mu       sync.Mutex
	isLocked bool

	// DoNotProtect is a list of paths not to apply the lock to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the locker
func (l *Locker) Lock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isLocked = true
}

// Unlock the locker
func (l *Locker) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.isLocked = false
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLocked
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is true, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	// return a handlerfunc wrapping a handler, middleware/generator pattern
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() {
			// check if the path is protected
			protected := true
			url := r.URL.Path
			for _, str := range l.DoNotProtect {
				if strings.Contains(url, str) {
					protected = false
				}
			}
			// if it is, bounce the request - locked
			if protected {
				w.WriteHeader(http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if b.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns Locked() over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	b := l.Locked()
	hp := generichttp.HumanPayload{T: types.Bool, Bool: b}
	hp.EncodeAndRespond(w, r)
}

// AxisLocker is a Locker whose lock is per-axis: requests under
// /axis/{axis}/ are only bounced when that axis is locked, and the lock
// routes take an ?axis= query parameter.  A request or lock with no axis
// falls back to whole-device behavior.
type AxisLocker struct {
	mu     sync.Mutex
	global bool
	axes   map[string]bool

	// DoNotProtect is a list of paths not to apply the lock to
	DoNotProtect []string
}

// NewAL returns a new AxisLocker with DoNotProtect prepopulated with "lock"
func NewAL() *AxisLocker {
	return &AxisLocker{
		axes:         map[string]bool{},
		DoNotProtect: []string{"lock"}}
}

// pathAxis extracts the axis label from a /axis/{axis}/... path, empty
// if the path has no axis segment
func pathAxis(path string) string {
	pieces := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range pieces {
		if p == "axis" && i+1 < len(pieces) {
			return pieces[i+1]
		}
	}
	return ""
}

func (a *AxisLocker) locked(axis string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.global {
		return true
	}
	if axis == "" {
		return false
	}
	return a.axes[axis]
}

func (a *AxisLocker) setLocked(axis string, locked bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if axis == "" {
		a.global = locked
		return
	}
	a.axes[axis] = locked
}

// Check is an HTTP middleware that bounces requests to locked axes with
// http.StatusLocked, otherwise passes down the line
func (a *AxisLocker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		url := r.URL.Path
		for _, str := range a.DoNotProtect {
			if strings.Contains(url, str) {
				next.ServeHTTP(w, r)
				return
			}
		}
		if a.locked(pathAxis(url)) {
			w.WriteHeader(http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet locks or unlocks the axis named by the ?axis= query parameter,
// or the whole device without one, based on json:bool on the request body
func (a *AxisLocker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.setLocked(r.URL.Query().Get("axis"), b.Bool)
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns the lock state of the ?axis= query parameter, or of the
// whole device without one, over HTTP as JSON
func (a *AxisLocker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	b := a.locked(r.URL.Query().Get("axis"))
	hp := generichttp.HumanPayload{T: types.Bool, Bool: b}
	hp.EncodeAndRespond(w, r)
}
