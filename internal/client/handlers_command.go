package client

import (
	"context"

	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/protocol"
)

func (c *Client) handleRunCommand(ctx context.Context, msg *protocol.Message) (any, error) {
	var req protocol.RunCommandRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	if req.Command == "" {
		return nil, apperrors.InvalidMessage("runCommand requires a command", nil)
	}

	output, err := c.runner.Run(ctx, req.Command)
	if err != nil {
		return nil, err
	}
	return protocol.RunCommandReply{Output: output}, nil
}
