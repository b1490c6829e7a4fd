package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openmined/syftxfer/internal/config"
	"github.com/openmined/syftxfer/internal/endpoint/billyfs"
	"github.com/openmined/syftxfer/internal/endpoint/local"
	"github.com/openmined/syftxfer/internal/endpoint/s3"
	"github.com/openmined/syftxfer/internal/transfer"
	"github.com/openmined/syftxfer/internal/utils"
)

// OpenEndpoints builds the local endpoint and the remote endpoint selected by the protocol.
// cfg must be validated.
func OpenEndpoints(ctx context.Context, cfg *config.Config) (transfer.Endpoints, error) {
	if err := utils.EnsureDir(cfg.LocalPath); err != nil {
		return transfer.Endpoints{}, fmt.Errorf("create local root: %w", err)
	}
	localEp, err := local.New(cfg.LocalPath)
	if err != nil {
		return transfer.Endpoints{}, err
	}

	remote, err := openRemote(ctx, cfg)
	if err != nil {
		return transfer.Endpoints{}, err
	}

	slog.Debug("endpoints", "local", cfg.LocalPath, "protocol", cfg.Protocol, "remote", cfg.RemotePath)
	return transfer.Endpoints{Local: localEp, Remote: remote}, nil
}

func openRemote(ctx context.Context, cfg *config.Config) (transfer.Endpoint, error) {
	switch cfg.Protocol {
	case config.ProtocolS3:
		s3cfg := *cfg.S3
		s3cfg.Prefix = transfer.JoinPath(s3cfg.Prefix, cfg.RemotePath)
		ep, err := s3.NewFromConfig(ctx, &s3cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 endpoint: %w", err)
		}
		return ep, nil

	case config.ProtocolFile:
		if err := utils.EnsureDir(cfg.RemotePath); err != nil {
			return nil, fmt.Errorf("create remote root: %w", err)
		}
		return local.New(cfg.RemotePath)

	case config.ProtocolMemory:
		return billyfs.NewInMemory(), nil

	default:
		return nil, &transfer.ConfigurationError{Field: "protocol", Reason: fmt.Sprintf("unknown protocol %q", cfg.Protocol)}
	}
}
