// Package shadowbox is the facade a frontend builds once via Open and tears
// down via Core.Shutdown. It wires configuration, logging, the Metadata
// Index, the Blob Store, the Session Manager, the Box Engine, LAN discovery
// and the share server into one process-wide core.
package shadowbox

import (
	"context"

	"go.uber.org/zap"

	"shadowbox/internal/blobstore"
	"shadowbox/internal/box"
	"shadowbox/internal/config"
	"shadowbox/internal/discovery"
	"shadowbox/internal/index"
	"shadowbox/internal/session"
	"shadowbox/internal/share"
)

// Core is the process-wide handle a frontend holds for ShadowBox's
// lifetime. Every exported method on Box, Share and Discovery below is
// reached through it rather than through the internal packages directly.
type Core struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	idx      *index.Index
	blobs    *blobstore.Store
	sessions *session.Manager

	Box       *box.Engine
	ShareSrv  *share.Server
	ShareClt  *share.Client
	Discovery *discovery.Manager

	sharePort int
}

// Open constructs every component in dependency order and applies pending
// Metadata Index migrations. Callers must call Shutdown when done.
func Open(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*Core, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	idx, err := index.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	blobs, err := blobstore.New(cfg.StorageRoot, logger)
	if err != nil {
		idx.Close()
		return nil, err
	}

	sessions := session.New(cfg.AutoLockMinutes, logger)
	engine := box.New(idx, blobs, sessions, cfg.MaxFileSize, logger)

	peerName, err := localPeerName()
	if err != nil {
		peerName = "shadowbox-peer"
	}

	core := &Core{
		cfg:       cfg,
		logger:    logger,
		idx:       idx,
		blobs:     blobs,
		sessions:  sessions,
		Box:       engine,
		ShareSrv:  share.NewServer(engine, peerName, logger),
		ShareClt:  share.NewClient(peerName, logger),
		Discovery: discovery.New(logger),
	}

	port, err := core.ShareSrv.Start(ctx, addrForPort(cfg.SharePort))
	if err != nil {
		core.Shutdown(ctx)
		return nil, err
	}
	core.sharePort = port

	logger.Infow("shadowbox core ready", "storage_root", cfg.StorageRoot, "db_path", cfg.DBPath, "share_port", port)
	return core, nil
}

// SharePort returns the TCP port the share server is listening on.
func (c *Core) SharePort() int { return c.sharePort }

// Publish advertises boxID over mDNS and authorizes share.Server to serve
// it, returning the share code. The code is the only secret a recipient
// ever needs — there is no separate AUTH secret to transmit out of band.
func (c *Core) Publish(ctx context.Context, boxID string, public bool) (code string, err error) {
	code, err = c.Discovery.Advertise(ctx, boxID, c.sharePort, public)
	if err != nil {
		return "", err
	}
	if err := c.ShareSrv.OpenShare(boxID, code, public); err != nil {
		c.Discovery.Withdraw(code)
		return "", err
	}
	return code, nil
}

// Unpublish withdraws a Box's mDNS advertisement and revokes serving it.
func (c *Core) Unpublish(boxID, code string) {
	c.Discovery.Withdraw(code)
	c.ShareSrv.CloseShare(boxID)
}

// Shutdown withdraws every LAN advertisement, stops the share server,
// locks every unlocked Box, and closes the Metadata Index. It is safe to
// call even if Open failed partway through.
func (c *Core) Shutdown(ctx context.Context) error {
	if c.Discovery != nil {
		c.Discovery.Close()
	}
	if c.ShareSrv != nil {
		c.ShareSrv.Stop()
	}
	if c.sessions != nil {
		c.sessions.LockAll()
		c.sessions.Stop(ctx)
	}
	if c.idx != nil {
		return c.idx.Close()
	}
	return nil
}
