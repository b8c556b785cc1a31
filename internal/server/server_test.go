package server

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/history"
	"github.com/nerrad567/gray-logic-hub/internal/imagestore"
	"github.com/nerrad567/gray-logic-hub/internal/protocol"
	"github.com/nerrad567/gray-logic-hub/internal/registry"
)

var testRef = AttestationRef{Name: "iotclient", Size: 4096}

func startTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()

	reg := registry.New()
	images, err := imagestore.New(filepath.Join(t.TempDir(), "images"))
	if err != nil {
		t.Fatalf("creating image store: %v", err)
	}

	srv := New("127.0.0.1:0", reg, images, testRef, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("starting server: %v", err)
	}
	t.Cleanup(func() { srv.Stop(2 * time.Second) })
	return srv, reg
}

// testClient drives the wire protocol from the client side.
type testClient struct {
	t    *testing.T
	conn net.Conn
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dialing server: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) roundTrip(msg protocol.Message) protocol.Message {
	c.t.Helper()
	if err := protocol.Write(c.conn, msg); err != nil {
		c.t.Fatalf("writing message: %v", err)
	}
	resp, err := protocol.Read(c.conn)
	if err != nil {
		c.t.Fatalf("reading response: %v", err)
	}
	return resp
}

func (c *testClient) expect(msg protocol.Message, want protocol.Code) protocol.Message {
	c.t.Helper()
	resp := c.roundTrip(msg)
	if resp.Code != want {
		c.t.Fatalf("got code %q, want %q", resp.Code, want)
	}
	return resp
}

// authenticate runs all three stages with the trusted reference.
func (c *testClient) authenticate(user, secret, device string, wantCred, wantDev protocol.Code) {
	c.t.Helper()
	c.expect(protocol.Message{User: user, Secret: secret}, wantCred)
	c.expect(protocol.Message{DeviceID: device}, wantDev)
	c.expect(protocol.Message{Name: testRef.Name, Size: testRef.Size}, protocol.CodeAttestationOK)
}

func TestFullScenario(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := dial(t, srv)
	alice.authenticate("alice", "pw1", "sensor1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)

	alice.expect(protocol.Message{Command: protocol.CmdCreate, Domain: "zone1"}, protocol.CodeOK)
	alice.expect(protocol.Message{Command: protocol.CmdRD, Domain: "zone1"}, protocol.CodeOK)
	alice.expect(protocol.Message{Command: protocol.CmdET, Temperature: "21.5"}, protocol.CodeOK)

	// Same device id under a different user is a different composite.
	bob := dial(t, srv)
	bob.authenticate("bob", "pw2", "sensor1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)

	// Not yet a member of zone1.
	bob.expect(protocol.Message{Command: protocol.CmdRT, Domain: "zone1"}, protocol.CodeNoPermission)

	resp := alice.expect(protocol.Message{Command: protocol.CmdRT, Domain: "zone1"}, protocol.CodeOK)
	var temps map[string]float64
	if err := json.Unmarshal(resp.Data, &temps); err != nil {
		t.Fatalf("unmarshalling temperatures: %v", err)
	}
	if len(temps) != 1 || temps["alice:sensor1"] != 21.5 {
		t.Errorf("temperatures = %v, want {alice:sensor1: 21.5}", temps)
	}

	alice.expect(protocol.Message{Command: protocol.CmdExit}, protocol.CodeOK)
}

func TestCredentialStageLoops(t *testing.T) {
	srv, _ := startTestServer(t)

	first := dial(t, srv)
	first.authenticate("carol", "right", "dev1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)

	second := dial(t, srv)
	second.expect(protocol.Message{User: "carol", Secret: "wrong"}, protocol.CodeWrongCredential)
	// Connection stays open; a corrected secret is accepted.
	second.expect(protocol.Message{User: "carol", Secret: "right"}, protocol.CodeUserOK)
}

func TestDeviceClaimExclusiveUntilExit(t *testing.T) {
	srv, _ := startTestServer(t)

	first := dial(t, srv)
	first.authenticate("dave", "pw", "sensor1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)

	second := dial(t, srv)
	second.expect(protocol.Message{User: "dave", Secret: "pw"}, protocol.CodeUserOK)
	second.expect(protocol.Message{DeviceID: "sensor1"}, protocol.CodeDeviceIDTaken)
	// The stage loops: a different id is accepted on the same connection.
	second.expect(protocol.Message{DeviceID: "sensor2"}, protocol.CodeDeviceIDOK)

	first.expect(protocol.Message{Command: protocol.CmdExit}, protocol.CodeOK)

	// After the holder exits, the id is claimable again.
	third := dial(t, srv)
	third.expect(protocol.Message{User: "dave", Secret: "pw"}, protocol.CodeUserOK)
	third.expect(protocol.Message{DeviceID: "sensor1"}, protocol.CodeDeviceIDOK)
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	srv, _ := startTestServer(t)

	seed := dial(t, srv)
	seed.authenticate("erin", "pw", "seed",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)

	const racers = 8
	results := make(chan protocol.Code, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", srv.Addr())
			if err != nil {
				return
			}
			defer conn.Close()

			if err := protocol.Write(conn, protocol.Message{User: "erin", Secret: "pw"}); err != nil {
				return
			}
			if _, err := protocol.Read(conn); err != nil {
				return
			}
			if err := protocol.Write(conn, protocol.Message{DeviceID: "contested"}); err != nil {
				return
			}
			resp, err := protocol.Read(conn)
			if err != nil {
				return
			}
			results <- resp.Code
			// Hold the claim until the test finishes.
			time.Sleep(200 * time.Millisecond)
		}()
	}
	wg.Wait()
	close(results)

	var winners int
	for code := range results {
		if code == protocol.CodeDeviceIDOK {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("got %d winning claims, want exactly 1", winners)
	}
}

func TestAttestationMismatchClosesConnection(t *testing.T) {
	srv, _ := startTestServer(t)

	c := dial(t, srv)
	c.expect(protocol.Message{User: "frank", Secret: "pw"}, protocol.CodeNewUserOK)
	c.expect(protocol.Message{DeviceID: "dev1"}, protocol.CodeDeviceIDOK)
	c.expect(protocol.Message{Name: "tampered", Size: 1}, protocol.CodeAttestationFailed)

	// The server must have closed the connection.
	c.conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := protocol.Read(c.conn); err == nil {
		t.Fatal("expected closed connection after failed attestation")
	}

	// The claimed device must be released for the next connection.
	retry := dial(t, srv)
	retry.expect(protocol.Message{User: "frank", Secret: "pw"}, protocol.CodeUserOK)
	retry.expect(protocol.Message{DeviceID: "dev1"}, protocol.CodeDeviceIDOK)
}

func TestAddAndDomainErrors(t *testing.T) {
	srv, _ := startTestServer(t)

	owner := dial(t, srv)
	owner.authenticate("gail", "pw", "dev1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)
	owner.expect(protocol.Message{Command: protocol.CmdCreate, Domain: "zone1"}, protocol.CodeOK)

	// Duplicate CREATE always fails, regardless of caller.
	owner.expect(protocol.Message{Command: protocol.CmdCreate, Domain: "zone1"}, protocol.CodeFailure)

	owner.expect(protocol.Message{Command: protocol.CmdAdd, Domain: "nowhere", User: "gail"}, protocol.CodeNoSuchDomain)
	owner.expect(protocol.Message{Command: protocol.CmdAdd, Domain: "zone1", User: "ghost"}, protocol.CodeNoSuchUser)

	member := dial(t, srv)
	member.authenticate("hank", "pw", "dev1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)

	owner.expect(protocol.Message{Command: protocol.CmdAdd, Domain: "zone1", User: "hank"}, protocol.CodeOK)

	// ADD is owner-only, even for members.
	member.expect(protocol.Message{Command: protocol.CmdAdd, Domain: "zone1", User: "hank"}, protocol.CodeNoPermission)

	// Members may register devices.
	member.expect(protocol.Message{Command: protocol.CmdRD, Domain: "zone1"}, protocol.CodeOK)
}

func TestRTNoData(t *testing.T) {
	srv, _ := startTestServer(t)

	c := dial(t, srv)
	c.authenticate("iris", "pw", "dev1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)
	c.expect(protocol.Message{Command: protocol.CmdCreate, Domain: "zone1"}, protocol.CodeOK)
	c.expect(protocol.Message{Command: protocol.CmdRD, Domain: "zone1"}, protocol.CodeOK)

	// Registered device but no report yet.
	c.expect(protocol.Message{Command: protocol.CmdRT, Domain: "zone1"}, protocol.CodeNoData)

	c.expect(protocol.Message{Command: protocol.CmdET, Temperature: "19.0"}, protocol.CodeOK)
	c.expect(protocol.Message{Command: protocol.CmdRT, Domain: "zone1"}, protocol.CodeOK)
}

func TestETInvalidNumber(t *testing.T) {
	srv, _ := startTestServer(t)

	c := dial(t, srv)
	c.authenticate("jack", "pw", "dev1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)
	c.expect(protocol.Message{Command: protocol.CmdET, Temperature: "warm"}, protocol.CodeFailure)
	// Connection survives the validation failure.
	c.expect(protocol.Message{Command: protocol.CmdET, Temperature: "20.5"}, protocol.CodeOK)
}

func TestImageAuthorizationBeforeExistence(t *testing.T) {
	srv, _ := startTestServer(t)

	owner := dial(t, srv)
	owner.authenticate("kate", "pw", "cam1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)
	owner.expect(protocol.Message{Command: protocol.CmdCreate, Domain: "zone1"}, protocol.CodeOK)
	owner.expect(protocol.Message{Command: protocol.CmdRD, Domain: "zone1"}, protocol.CodeOK)
	owner.expect(protocol.Message{Command: protocol.CmdEI, Data: []byte("jpegbytes")}, protocol.CodeOK)

	outsider := dial(t, srv)
	outsider.authenticate("liam", "pw", "dev1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)

	// A non-member gets no-permission, never a hint the image exists.
	outsider.expect(protocol.Message{Command: protocol.CmdRI, User: "kate", DeviceID: "cam1"}, protocol.CodeNoPermission)
	outsider.expect(protocol.Message{Command: protocol.CmdRI, User: "kate", DeviceID: "ghost"}, protocol.CodeNoSuchDevice)

	resp := owner.expect(protocol.Message{Command: protocol.CmdRI, User: "kate", DeviceID: "cam1"}, protocol.CodeOK)
	if string(resp.Data) != "jpegbytes" {
		t.Errorf("image bytes = %q", resp.Data)
	}
}

func TestRINoImageStored(t *testing.T) {
	srv, _ := startTestServer(t)

	c := dial(t, srv)
	c.authenticate("mona", "pw", "cam1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)
	c.expect(protocol.Message{Command: protocol.CmdCreate, Domain: "zone1"}, protocol.CodeOK)
	c.expect(protocol.Message{Command: protocol.CmdRD, Domain: "zone1"}, protocol.CodeOK)

	c.expect(protocol.Message{Command: protocol.CmdRI, User: "mona", DeviceID: "cam1"}, protocol.CodeNoData)
}

func TestEIEmptyPayloadRejected(t *testing.T) {
	srv, _ := startTestServer(t)

	c := dial(t, srv)
	c.authenticate("nate", "pw", "cam1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)
	c.expect(protocol.Message{Command: protocol.CmdEI}, protocol.CodeFailure)
}

func TestUnknownCommandKeepsConnection(t *testing.T) {
	srv, _ := startTestServer(t)

	c := dial(t, srv)
	c.authenticate("olga", "pw", "dev1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)
	c.expect(protocol.Message{Command: "NOPE"}, protocol.CodeError)
	c.expect(protocol.Message{Command: protocol.CmdCreate, Domain: "zone1"}, protocol.CodeOK)
}

func TestDisconnectReleasesDevice(t *testing.T) {
	srv, reg := startTestServer(t)

	c := dial(t, srv)
	c.authenticate("pete", "pw", "dev1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)
	c.conn.Close()

	// The handler releases the claim asynchronously after the close.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := reg.ClaimDevice("pete", "dev1"); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("device never released after disconnect")
}

// stubReadingSource serves canned history and records the limit it was
// asked for.
type stubReadingSource struct {
	mu        sync.Mutex
	byDevice  map[string][]history.Reading
	lastLimit int
}

func (s *stubReadingSource) Recent(_ context.Context, deviceID string, limit int) ([]history.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	return s.byDevice[deviceID], nil
}

func TestRHAuthorizationAndPayload(t *testing.T) {
	srv, _ := startTestServer(t)

	when := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	source := &stubReadingSource{byDevice: map[string][]history.Reading{
		"quinn:sensor1": {
			{ID: 2, DeviceID: "quinn:sensor1", Value: 21.5, RecordedAt: when},
			{ID: 1, DeviceID: "quinn:sensor1", Value: 20.0, RecordedAt: when.Add(-time.Minute)},
		},
	}}
	srv.SetReadingSource(source)

	owner := dial(t, srv)
	owner.authenticate("quinn", "pw", "sensor1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)
	owner.expect(protocol.Message{Command: protocol.CmdCreate, Domain: "zone1"}, protocol.CodeOK)
	owner.expect(protocol.Message{Command: protocol.CmdRD, Domain: "zone1"}, protocol.CodeOK)

	outsider := dial(t, srv)
	outsider.authenticate("ruth", "pw", "dev1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)

	// Same gate as the image read: a non-member learns nothing about
	// stored history, and an unregistered device is reported as such.
	outsider.expect(protocol.Message{Command: protocol.CmdRH, User: "quinn", DeviceID: "sensor1"}, protocol.CodeNoPermission)
	outsider.expect(protocol.Message{Command: protocol.CmdRH, User: "quinn", DeviceID: "ghost"}, protocol.CodeNoSuchDevice)

	resp := owner.expect(protocol.Message{Command: protocol.CmdRH, User: "quinn", DeviceID: "sensor1", Size: 2}, protocol.CodeOK)
	var readings []history.Reading
	if err := json.Unmarshal(resp.Data, &readings); err != nil {
		t.Fatalf("unmarshalling readings: %v", err)
	}
	if len(readings) != 2 || readings[0].Value != 21.5 || readings[1].Value != 20.0 {
		t.Errorf("readings = %+v", readings)
	}

	source.mu.Lock()
	limit := source.lastLimit
	source.mu.Unlock()
	if limit != 2 {
		t.Errorf("requested limit = %d, want 2", limit)
	}
}

func TestRHNoHistoryStored(t *testing.T) {
	srv, _ := startTestServer(t)
	srv.SetReadingSource(&stubReadingSource{})

	c := dial(t, srv)
	c.authenticate("sara", "pw", "sensor1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)
	c.expect(protocol.Message{Command: protocol.CmdCreate, Domain: "zone1"}, protocol.CodeOK)
	c.expect(protocol.Message{Command: protocol.CmdRD, Domain: "zone1"}, protocol.CodeOK)

	c.expect(protocol.Message{Command: protocol.CmdRH, User: "sara", DeviceID: "sensor1"}, protocol.CodeNoData)
}

func TestRHWithoutSource(t *testing.T) {
	srv, _ := startTestServer(t)

	c := dial(t, srv)
	c.authenticate("tess", "pw", "sensor1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)
	c.expect(protocol.Message{Command: protocol.CmdCreate, Domain: "zone1"}, protocol.CodeOK)
	c.expect(protocol.Message{Command: protocol.CmdRD, Domain: "zone1"}, protocol.CodeOK)

	// No history backend attached: the command fails without closing
	// the connection.
	c.expect(protocol.Message{Command: protocol.CmdRH, User: "tess", DeviceID: "sensor1"}, protocol.CodeFailure)
	c.expect(protocol.Message{Command: protocol.CmdET, Temperature: "18.0"}, protocol.CodeOK)
}

// stubRecorder captures telemetry fan-out calls from the handlers.
type stubRecorder struct {
	mu       sync.Mutex
	presence []string
}

func (s *stubRecorder) Record(context.Context, string, float64) error { return nil }

func (s *stubRecorder) Presence(_ context.Context, deviceID string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := "offline"
	if online {
		state = "online"
	}
	s.presence = append(s.presence, deviceID+" "+state)
	return nil
}

func (s *stubRecorder) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.presence...)
}

func TestPresencePublishedOnClaimAndRelease(t *testing.T) {
	srv, _ := startTestServer(t)
	rec := &stubRecorder{}
	srv.SetTelemetry(rec)

	c := dial(t, srv)
	c.authenticate("una", "pw", "sensor1",
		protocol.CodeNewUserOK, protocol.CodeDeviceIDOK)
	c.expect(protocol.Message{Command: protocol.CmdExit}, protocol.CodeOK)

	// The offline event fires after the handler unwinds.
	want := []string{"una:sensor1 online", "una:sensor1 offline"}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := rec.events()
		if len(got) == 2 {
			if got[0] != want[0] || got[1] != want[1] {
				t.Fatalf("presence events = %v, want %v", got, want)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("presence events = %v, want %v", rec.events(), want)
}

func TestLoadAttestationRef(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "attest.ref")
	if err := os.WriteFile(path, []byte("iotclient:4096\n"), 0o600); err != nil {
		t.Fatalf("writing reference: %v", err)
	}

	ref, err := LoadAttestationRef(path)
	if err != nil {
		t.Fatalf("LoadAttestationRef: %v", err)
	}
	if ref.Name != "iotclient" || ref.Size != 4096 {
		t.Errorf("ref = %+v", ref)
	}
	if !ref.Matches("iotclient", 4096) {
		t.Error("Matches rejected exact match")
	}
	if ref.Matches("iotclient", 4095) || ref.Matches("other", 4096) {
		t.Error("Matches accepted mismatch")
	}
}

func TestLoadAttestationRefErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadAttestationRef(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.ref")
	for _, content := range []string{"no-separator", "name:", ":123", "name:notanumber"} {
		if err := os.WriteFile(bad, []byte(content), 0o600); err != nil {
			t.Fatalf("writing reference: %v", err)
		}
		if _, err := LoadAttestationRef(bad); err == nil {
			t.Errorf("expected error for %q", content)
		}
	}
}
