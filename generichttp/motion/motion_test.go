package motion_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"

	"github.com/amsikking/asi-MS-2000-500-CP/asi"
	"github.com/amsikking/asi-MS-2000-500-CP/generichttp"
	"github.com/amsikking/asi-MS-2000-500-CP/generichttp/motion"
	"github.com/amsikking/asi-MS-2000-500-CP/server/middleware/locker"
	"github.com/amsikking/asi-MS-2000-500-CP/util"
)

// newStageServer stands up the same stack BuildMux assembles for one node,
// over a mock stage with X and Y axes
func newStageServer(t *testing.T, limits map[string]util.Limiter) *httptest.Server {
	t.Helper()
	mock := asi.NewMock("X", "Y")
	httper := motion.NewHTTPMotionController(mock)
	limiter := motion.LimitMiddleware{Limits: limits, Mov: mock}
	limiter.Inject(httper)
	lock := locker.NewAL()
	locker.Inject(httper, lock)
	r := chi.NewRouter()
	r.Use(limiter.Check)
	r.Use(lock.Check)
	httper.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, obj interface{}) *http.Response {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(obj); err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", buf)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, into interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatal(err)
		}
	}
	return resp
}

// wait blocks on the server's wait route until the axis settles
func wait(t *testing.T, srv *httptest.Server, axis string) {
	t.Helper()
	resp := postJSON(t, srv.URL+"/axis/"+axis+"/wait", generichttp.FloatT{F64: 5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("wait on %s returned %d", axis, resp.StatusCode)
	}
}

func TestSetPosThenGetPos(t *testing.T) {
	srv := newStageServer(t, nil)
	resp := postJSON(t, srv.URL+"/axis/X/pos", generichttp.FloatT{F64: 2000})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set pos returned %d", resp.StatusCode)
	}
	wait(t, srv, "X")
	f := generichttp.FloatT{}
	getJSON(t, srv.URL+"/axis/X/pos", &f)
	if f.F64 != 2000 {
		t.Errorf("expected X at 2000 counts, got %f", f.F64)
	}
}

func TestSetPosRelativeAccumulates(t *testing.T) {
	srv := newStageServer(t, nil)
	postJSON(t, srv.URL+"/axis/Y/pos", generichttp.FloatT{F64: 1000})
	wait(t, srv, "Y")
	resp := postJSON(t, srv.URL+"/axis/Y/pos?relative=true", generichttp.FloatT{F64: 500})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("relative move returned %d", resp.StatusCode)
	}
	wait(t, srv, "Y")
	f := generichttp.FloatT{}
	getJSON(t, srv.URL+"/axis/Y/pos", &f)
	if f.F64 != 1500 {
		t.Errorf("expected Y at 1500 counts, got %f", f.F64)
	}
}

func TestHomeReturnsToZero(t *testing.T) {
	srv := newStageServer(t, nil)
	postJSON(t, srv.URL+"/axis/X/pos", generichttp.FloatT{F64: 3000})
	wait(t, srv, "X")
	resp := postJSON(t, srv.URL+"/axis/X/home", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("home returned %d", resp.StatusCode)
	}
	wait(t, srv, "X")
	f := generichttp.FloatT{}
	getJSON(t, srv.URL+"/axis/X/pos", &f)
	if f.F64 != 0 {
		t.Errorf("expected X at home, got %f", f.F64)
	}
}

func TestVelocityRoundTrip(t *testing.T) {
	srv := newStageServer(t, nil)
	resp := postJSON(t, srv.URL+"/axis/X/velocity", generichttp.FloatT{F64: 5.75})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set velocity returned %d", resp.StatusCode)
	}
	f := generichttp.FloatT{}
	getJSON(t, srv.URL+"/axis/X/velocity", &f)
	if f.F64 != 5.75 {
		t.Errorf("expected velocity 5.75, got %f", f.F64)
	}
}

func TestEnabledRoundTrip(t *testing.T) {
	srv := newStageServer(t, nil)
	b := generichttp.BoolT{}
	getJSON(t, srv.URL+"/axis/X/enabled", &b)
	if !b.Bool {
		t.Fatal("expected axis enabled at startup")
	}
	postJSON(t, srv.URL+"/axis/X/enabled", generichttp.BoolT{Bool: false})
	getJSON(t, srv.URL+"/axis/X/enabled", &b)
	if b.Bool {
		t.Error("expected axis disabled after POST false")
	}
}

func TestInPositionAfterSettle(t *testing.T) {
	srv := newStageServer(t, nil)
	postJSON(t, srv.URL+"/axis/X/pos", generichttp.FloatT{F64: 2000})
	wait(t, srv, "X")
	b := generichttp.BoolT{}
	getJSON(t, srv.URL+"/axis/X/inposition", &b)
	if !b.Bool {
		t.Error("expected axis in position after wait")
	}
}

func TestStopRoute(t *testing.T) {
	srv := newStageServer(t, nil)
	postJSON(t, srv.URL+"/axis/X/pos", generichttp.FloatT{F64: 1e9})
	resp := postJSON(t, srv.URL+"/axis/X/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop returned %d", resp.StatusCode)
	}
	wait(t, srv, "X")
	f := generichttp.FloatT{}
	getJSON(t, srv.URL+"/axis/X/pos", &f)
	if f.F64 >= 1e9 {
		t.Error("expected stop to halt the move short of the target")
	}
}

func TestUnknownAxisReturns500(t *testing.T) {
	srv := newStageServer(t, nil)
	resp := postJSON(t, srv.URL+"/axis/Q/pos", generichttp.FloatT{F64: 100})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500 for unknown axis, got %d", resp.StatusCode)
	}
}

func TestLimitMiddlewareBouncesBadMove(t *testing.T) {
	limits := map[string]util.Limiter{"X": {Min: -1000, Max: 1000}}
	srv := newStageServer(t, limits)
	resp := postJSON(t, srv.URL+"/axis/X/pos", generichttp.FloatT{F64: 5000})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for out of limit move, got %d", resp.StatusCode)
	}
	// inside the limit passes through
	resp = postJSON(t, srv.URL+"/axis/X/pos", generichttp.FloatT{F64: 500})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for in-limit move, got %d", resp.StatusCode)
	}
	// no limit registered for Y, anything goes
	resp = postJSON(t, srv.URL+"/axis/Y/pos", generichttp.FloatT{F64: 5000})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for unlimited axis, got %d", resp.StatusCode)
	}
}

func TestLimitMiddlewareShiftsRelativeMoves(t *testing.T) {
	limits := map[string]util.Limiter{"X": {Min: -1000, Max: 1000}}
	srv := newStageServer(t, limits)
	postJSON(t, srv.URL+"/axis/X/pos", generichttp.FloatT{F64: 800})
	wait(t, srv, "X")
	// 800 + 500 exceeds the cap even though 500 alone does not
	resp := postJSON(t, srv.URL+"/axis/X/pos?relative=true", generichttp.FloatT{F64: 500})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for relative move past limit, got %d", resp.StatusCode)
	}
}

func TestLimitsRoute(t *testing.T) {
	limits := map[string]util.Limiter{"X": {Min: -1000, Max: 1000}}
	srv := newStageServer(t, limits)
	lim := util.Limiter{}
	getJSON(t, srv.URL+"/axis/X/limits", &lim)
	if lim.Min != -1000 || lim.Max != 1000 {
		t.Errorf("expected limits [-1000, 1000], got [%f, %f]", lim.Min, lim.Max)
	}
}

func TestAxisLockBouncesOnlyThatAxis(t *testing.T) {
	srv := newStageServer(t, nil)
	resp := postJSON(t, srv.URL+"/lock?axis=X", generichttp.BoolT{Bool: true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lock returned %d", resp.StatusCode)
	}
	resp = postJSON(t, srv.URL+"/axis/X/pos", generichttp.FloatT{F64: 100})
	if resp.StatusCode != http.StatusLocked {
		t.Errorf("expected 423 for locked axis, got %d", resp.StatusCode)
	}
	resp = postJSON(t, srv.URL+"/axis/Y/pos", generichttp.FloatT{F64: 100})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for unlocked axis, got %d", resp.StatusCode)
	}
	// unlock restores access
	postJSON(t, srv.URL+"/lock?axis=X", generichttp.BoolT{Bool: false})
	resp = postJSON(t, srv.URL+"/axis/X/pos", generichttp.FloatT{F64: 100})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 after unlock, got %d", resp.StatusCode)
	}
}

func TestGlobalLockBouncesEverything(t *testing.T) {
	srv := newStageServer(t, nil)
	postJSON(t, srv.URL+"/lock", generichttp.BoolT{Bool: true})
	for _, axis := range []string{"X", "Y"} {
		resp := postJSON(t, srv.URL+"/axis/"+axis+"/pos", generichttp.FloatT{F64: 100})
		if resp.StatusCode != http.StatusLocked {
			t.Errorf("expected 423 on %s under global lock, got %d", axis, resp.StatusCode)
		}
	}
	// the lock route itself stays reachable
	b := generichttp.BoolT{}
	resp := getJSON(t, srv.URL+"/lock", &b)
	if resp.StatusCode != http.StatusOK || !b.Bool {
		t.Error("expected lock query to report locked")
	}
}
