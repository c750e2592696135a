package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"herdchat/api"
	"herdchat/auth"
	"herdchat/domain"
	"herdchat/feed"
	"herdchat/moderation"
	"herdchat/presence"
	"herdchat/repositories"
	"herdchat/runtime"
	"herdchat/runtime/workers"
	"herdchat/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/stretchr/testify/suite"
)

// BaseSuite dials a running herdchat node, or boots one in-process when no
// address is configured.
type BaseSuite struct {
	suite.Suite
	Config Config
	Tokens auth.Tokens

	addr     string
	db       *badger.DB
	dataDir  string
	cancel   context.CancelFunc
	stopped  chan struct{}
	profiles repositories.ProfileRepository
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)

	s.Tokens = auth.NewTokens(s.Config.TokenSecret, time.Hour)
	if s.Config.Addr != "" {
		s.addr = s.Config.Addr
		return
	}
	s.bootNode()
}

func (s *BaseSuite) TearDownSuite() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.stopped
	_ = s.db.Close()
	_ = os.RemoveAll(s.dataDir)
}

// bootNode assembles the full stack the binary would: badger, feed,
// moderation, service and the RPC server under supervision.
func (s *BaseSuite) bootNode() {
	req := s.Require()
	log := slog.Default()

	dataDir, err := os.MkdirTemp("", "herdchat-e2e-")
	req.NoError(err)
	s.dataDir = dataDir

	s.db, err = badger.Open(badger.DefaultOptions(dataDir).WithLoggingLevel(badger.ERROR))
	req.NoError(err)

	localFeed := feed.NewLocalFeed(log, 16)
	moderator, err := moderation.NewModerator([]string{"badword"}, '*')
	req.NoError(err)

	s.profiles = repositories.NewProfileRepository(s.db)
	service := services.NewChatService(services.Params{
		Log:              log,
		Registry:         runtime.NewChannelRegistry(log, repositories.NewChannelRepository(s.db)),
		Messages:         repositories.NewMessageRepository(s.db, log),
		Profiles:         s.profiles,
		Feed:             localFeed,
		Moderator:        &moderator,
		MaxContentLength: 500,
		HistoryLimit:     30,
	})

	rpc := api.NewRPC(s.Tokens, service, presence.NewResolver(s.profiles, log))
	server := api.NewServer(log, "127.0.0.1:0", rpc)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopped = make(chan struct{})

	sup := workers.NewSupervisor(log, 200*time.Millisecond)
	sup.Add(server)
	go func() {
		defer close(s.stopped)
		sup.Run(ctx)
	}()

	select {
	case addr := <-server.Ready():
		s.addr = addr.String()
	case <-time.After(5 * time.Second):
		req.FailNow("rpc server never became ready")
	}
}

// WithClient runs one contextual step against a fresh connection, with a
// colorized header in the test log.
func (s *BaseSuite) WithClient(name string, fn func(ctx context.Context, client *api.Client)) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)

	conn, err := net.Dial("tcp", s.addr)
	s.Require().NoError(err, "Failed to connect to herdchat at "+s.addr)
	client := api.NewClient(conn)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fn(ctx, client)
}

// Dump logs a value as indented JSON when E2E_DEBUG_JSON is enabled.
func (s *BaseSuite) Dump(label string, v any) {
	if !s.Config.DebugJSON {
		return
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	s.Require().NoError(err)
	s.T().Logf("%s:\n%s", label, raw)
}

// TokenFor signs a token for userID with the suite secret.
func (s *BaseSuite) TokenFor(userID string) string {
	signed, err := s.Tokens.Generate(userID)
	s.Require().NoError(err)
	return signed
}

// SeedProfile installs an identity record; only works against the
// in-process node.
func (s *BaseSuite) SeedProfile(profile domain.Profile) {
	if s.db == nil {
		s.T().Skip("profile seeding requires the in-process node")
	}
	s.Require().NoError(s.profiles.Put(profile))
}
