package text

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"hybrid/server/internal/auth"
	"hybrid/server/internal/channels"
	"hybrid/server/internal/state"
	"hybrid/server/internal/store"
)

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cm, err := channels.New(st)
	if err != nil {
		t.Fatalf("channels: %v", err)
	}

	srv := NewServer(Config{Addr: "127.0.0.1:0"}, state.NewRegistry(), auth.New(st), cm)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	return srv, srv.Addr().String()
}

// testClient drives one text connection from the client side.
type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialTestClient(t *testing.T, addr string) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("send %q: %v", line, err)
	}
}

func (c *testClient) readLine() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("read line: %v", err)
	}
	return strings.TrimRight(line, "\n")
}

// expect reads one line and requires the given prefix.
func (c *testClient) expect(prefix string) string {
	c.t.Helper()
	line := c.readLine()
	if !strings.HasPrefix(line, prefix) {
		c.t.Fatalf("got %q, want prefix %q", line, prefix)
	}
	return line
}

// readUntil skips lines until one with the given prefix arrives. Used where
// broadcasts from other clients' handlers may interleave.
func (c *testClient) readUntil(prefix string) string {
	c.t.Helper()
	for i := 0; i < 50; i++ {
		line := c.readLine()
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
	c.t.Fatalf("no line with prefix %q", prefix)
	return ""
}

// pingExpectNoMsg does a PING round-trip and fails if any chat message was
// queued for this client before the PONG. Since a connection's lines arrive
// in server-send order, this proves no broadcast leaked to it.
func (c *testClient) pingExpectNoMsg() {
	c.t.Helper()
	c.send("PING")
	for i := 0; i < 50; i++ {
		line := c.readLine()
		if line == "PONG" {
			return
		}
		if strings.HasPrefix(line, "MSG:") {
			c.t.Fatalf("unexpected message: %q", line)
		}
	}
	c.t.Fatal("no PONG")
}

// login registers and logs in a fresh user, consuming the post-login burst
// (USERLIST and CHANNEL_LIST).
func login(t *testing.T, addr, username string) *testClient {
	t.Helper()

	c := dialTestClient(t, addr)
	c.send("REGISTER:" + username + ":secret")
	c.expect("REG_OK")
	c.send("LOGIN:" + username + ":secret")
	c.expect("AUTH_OK")
	c.readUntil("USERLIST:")
	c.readUntil("CHANNEL_LIST:")
	return c
}

func TestRegisterLoginFlow(t *testing.T) {
	_, addr := startTestServer(t)

	c := dialTestClient(t, addr)
	c.send("REGISTER:alice:secret")
	c.expect("REG_OK")
	c.send("LOGIN:alice:secret")
	c.expect("AUTH_OK")

	if got := c.readUntil("USERLIST:"); got != "USERLIST:alice" {
		t.Errorf("userlist = %q", got)
	}
	if got := c.readUntil("CHANNEL_LIST:"); got != "CHANNEL_LIST:General" {
		t.Errorf("channel list = %q", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	_, addr := startTestServer(t)
	c := dialTestClient(t, addr)

	c.send("REGISTER:a:secret")
	if got := c.expect("REG_FAIL:"); !strings.Contains(got, "2-32") {
		t.Errorf("short name: %q", got)
	}
	c.send("REGISTER:alice:abc")
	if got := c.expect("REG_FAIL:"); !strings.Contains(got, "Пароль") {
		t.Errorf("short password: %q", got)
	}
	c.send("REGISTER:alice:secret")
	c.expect("REG_OK")
	c.send("REGISTER:alice:other")
	if got := c.expect("REG_FAIL:"); got != "REG_FAIL:Имя уже занято" {
		t.Errorf("duplicate: %q", got)
	}
}

func TestLoginFailures(t *testing.T) {
	_, addr := startTestServer(t)

	c := dialTestClient(t, addr)
	c.send("LOGIN:ghost:secret")
	if got := c.expect("AUTH_FAIL:"); got != "AUTH_FAIL:Пользователь не найден" {
		t.Errorf("unknown user: %q", got)
	}

	c.send("REGISTER:alice:secret")
	c.expect("REG_OK")
	c.send("LOGIN:alice:wrong")
	if got := c.expect("AUTH_FAIL:"); got != "AUTH_FAIL:Неверный пароль" {
		t.Errorf("bad password: %q", got)
	}

	// Commands before login are rejected without closing the connection.
	c.send("MSG:hello")
	if got := c.expect("AUTH_FAIL:"); got != "AUTH_FAIL:Сначала войдите (LOGIN/REGISTER)" {
		t.Errorf("pre-auth command: %q", got)
	}
	c.send("LOGIN:alice:secret")
	c.expect("AUTH_OK")
}

func TestDuplicateLoginRejected(t *testing.T) {
	_, addr := startTestServer(t)

	login(t, addr, "alice")

	c2 := dialTestClient(t, addr)
	c2.send("REGISTER:bob:secret") // make sure auth phase works after fail
	c2.expect("REG_OK")
	c2.send("LOGIN:alice:secret")
	if got := c2.expect("AUTH_FAIL:"); got != "AUTH_FAIL:Уже в сети" {
		t.Errorf("duplicate login: %q", got)
	}
	// The connection is still usable for a different user.
	c2.send("LOGIN:bob:secret")
	c2.expect("AUTH_OK")
}

func TestChannelBroadcastIsolation(t *testing.T) {
	_, addr := startTestServer(t)

	alice := login(t, addr, "alice")
	bob := login(t, addr, "bob")
	carol := login(t, addr, "carol")

	carol.send("CREATE_CHANNEL:Dev")
	carol.readUntil("CHANNEL_CREATED:Dev")

	alice.send("JOIN_CHANNEL:General")
	alice.readUntil("CHANNEL_USERS:General:alice")
	bob.send("JOIN_CHANNEL:General")
	bob.readUntil("CHANNEL_USERS:General:alice,bob")
	carol.send("JOIN_CHANNEL:Dev")
	carol.readUntil("CHANNEL_USERS:Dev:carol")

	alice.send("MSG:привет")
	if got := bob.readUntil("MSG:"); got != "MSG:alice:привет" {
		t.Errorf("bob got %q", got)
	}

	// Carol is in another channel and must not see it.
	carol.pingExpectNoMsg()
}

func TestMessageWithoutChannelDropped(t *testing.T) {
	_, addr := startTestServer(t)

	alice := login(t, addr, "alice")
	bob := login(t, addr, "bob")

	alice.send("MSG:void")
	alice.send("PING")
	alice.readUntil("PONG")

	bob.pingExpectNoMsg()
}

func TestChannelSwitchEventOrder(t *testing.T) {
	_, addr := startTestServer(t)

	alice := login(t, addr, "alice")
	observer := login(t, addr, "bob")

	alice.send("CREATE_CHANNEL:Dev")
	alice.readUntil("CHANNEL_CREATED:Dev")
	observer.readUntil("CHANNEL_LIST:")

	alice.send("JOIN_CHANNEL:General")
	observer.readUntil("USER_JOINED_CHANNEL:alice:General")
	observer.expect("CHANNEL_USERS:General:alice")

	// Switching channels emits leave events for the old channel first, then
	// join events for the new one.
	alice.send("JOIN_CHANNEL:Dev")
	observer.readUntil("USER_LEFT_CHANNEL:alice:General")
	observer.expect("CHANNEL_USERS:General:")
	observer.expect("USER_JOINED_CHANNEL:alice:Dev")
	observer.expect("CHANNEL_USERS:Dev:alice")
}

func TestJoinUnknownChannel(t *testing.T) {
	_, addr := startTestServer(t)

	alice := login(t, addr, "alice")
	alice.send("JOIN_CHANNEL:Nowhere")
	if got := alice.expect("SYSTEM:"); got != "SYSTEM:Канал не найден" {
		t.Errorf("join unknown: %q", got)
	}
}

func TestLeaveWithoutChannelIsNoop(t *testing.T) {
	_, addr := startTestServer(t)

	alice := login(t, addr, "alice")
	alice.send("LEAVE_CHANNEL")
	alice.send("PING")
	// No USER_LEFT_CHANNEL broadcast may precede the pong.
	if got := alice.readLine(); got != "PONG" {
		t.Errorf("got %q, want PONG", got)
	}
}

func TestCreateChannelFailures(t *testing.T) {
	_, addr := startTestServer(t)

	alice := login(t, addr, "alice")

	alice.send("CREATE_CHANNEL:General")
	if got := alice.expect("CHANNEL_DELETE_FAIL:"); !strings.Contains(got, "существует") {
		t.Errorf("duplicate create: %q", got)
	}
	alice.send("CREATE_CHANNEL:" + strings.Repeat("x", 33))
	if got := alice.expect("CHANNEL_DELETE_FAIL:"); !strings.Contains(got, "32") {
		t.Errorf("long name: %q", got)
	}
}

func TestDeleteChannelMovesMembersOut(t *testing.T) {
	_, addr := startTestServer(t)

	alice := login(t, addr, "alice")
	bob := login(t, addr, "bob")

	alice.send("CREATE_CHANNEL:Dev")
	alice.readUntil("CHANNEL_LIST:")
	bob.readUntil("CHANNEL_LIST:")

	alice.send("JOIN_CHANNEL:Dev")
	alice.readUntil("CHANNEL_USERS:Dev:alice")
	bob.send("JOIN_CHANNEL:Dev")
	bob.readUntil("CHANNEL_USERS:Dev:alice,bob")

	alice.send("DELETE_CHANNEL:Dev")
	bob.readUntil("CHANNEL_DELETED:Dev")
	if got := bob.readUntil("CHANNEL_LIST:"); got != "CHANNEL_LIST:General" {
		t.Errorf("channel list after delete: %q", got)
	}

	// Members landed in the null channel: messages are dropped.
	alice.send("MSG:lost")
	bob.pingExpectNoMsg()
}

func TestDeletePermanentChannelRejected(t *testing.T) {
	_, addr := startTestServer(t)

	alice := login(t, addr, "alice")
	alice.send("DELETE_CHANNEL:General")
	if got := alice.expect("CHANNEL_DELETE_FAIL:"); got != "CHANNEL_DELETE_FAIL:Нельзя удалить постоянный канал" {
		t.Errorf("delete permanent: %q", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, addr := startTestServer(t)

	alice := login(t, addr, "alice")
	alice.send("FROBNICATE:now")
	if got := alice.expect("SYSTEM:"); got != "SYSTEM:Неизвестная команда" {
		t.Errorf("unknown command: %q", got)
	}
}

func TestDisconnectBroadcast(t *testing.T) {
	_, addr := startTestServer(t)

	alice := login(t, addr, "alice")
	bob := login(t, addr, "bob")
	alice.readUntil("USERLIST:") // bob's join burst

	bob.conn.Close()

	if got := alice.readUntil("SYSTEM:"); got != "SYSTEM:bob покинул чат" {
		t.Errorf("leave system: %q", got)
	}
	if got := alice.readUntil("USERLIST:"); got != "USERLIST:alice" {
		t.Errorf("userlist after leave: %q", got)
	}
}

func TestTypingForwarded(t *testing.T) {
	_, addr := startTestServer(t)

	alice := login(t, addr, "alice")
	bob := login(t, addr, "bob")

	alice.send("JOIN_CHANNEL:General")
	alice.readUntil("CHANNEL_USERS:General:alice")
	bob.send("JOIN_CHANNEL:General")
	bob.readUntil("CHANNEL_USERS:General:alice,bob")

	alice.send("TYPING")
	if got := bob.readUntil("TYPING:"); got != "TYPING:alice" {
		t.Errorf("typing = %q", got)
	}
}

func TestMessagePayloadWithColons(t *testing.T) {
	_, addr := startTestServer(t)

	alice := login(t, addr, "alice")
	bob := login(t, addr, "bob")

	alice.send("JOIN_CHANNEL:General")
	alice.readUntil("CHANNEL_USERS:General:alice")
	bob.send("JOIN_CHANNEL:General")
	bob.readUntil("CHANNEL_USERS:General:alice,bob")

	alice.send("MSG:see http://host:5557/path")
	if got := bob.readUntil("MSG:"); got != "MSG:alice:see http://host:5557/path" {
		t.Errorf("colon payload = %q", got)
	}
}
