package client

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/pseudocoder/idelink/internal/dispatch"
	apperrors "github.com/pseudocoder/idelink/internal/errors"
	"github.com/pseudocoder/idelink/internal/protocol"
)

// secretPrompt is shown when the backend asks for a secret that is not set.
const secretPrompt = "Enter secret for %s, OR press enter to try for free. You can edit this later in the idelink settings."

func (c *Client) registerHandlers() {
	d := c.dispatcher

	d.Register(protocol.KindHighlightedCode, c.handleHighlightedCode)
	d.Register(protocol.KindWorkspaceDirectory, c.handleWorkspaceDirectory)
	d.Register(protocol.KindUniqueID, c.handleUniqueID)
	d.Register(protocol.KindGetUserSecret, c.handleGetUserSecret)
	d.Register(protocol.KindOpenFiles, c.handleOpenFiles)
	d.Register(protocol.KindHighlightCode, c.handleHighlightCode)
	d.Register(protocol.KindSaveFile, c.handleSaveFile)
	d.Register(protocol.KindSetFileOpen, c.handleSetFileOpen)
	d.Register(protocol.KindOpenGUI, ignore)
	d.Register(protocol.KindConnected, ignore)

	// The backend blocks on these replies, so a failure still answers.
	d.Register(protocol.KindReadFile, c.replyOnFailure(protocol.KindReadFile,
		protocol.ReadFileReply{}, c.handleReadFile))
	d.Register(protocol.KindEditFile, c.replyOnFailure(protocol.KindEditFile,
		protocol.EditFileReply{}, c.handleEditFile))
	d.Register(protocol.KindRunCommand, c.replyOnFailure(protocol.KindRunCommand,
		protocol.RunCommandReply{}, c.handleRunCommand))
}

// replyOnFailure turns a handler error or panic into the fallback reply.
func (c *Client) replyOnFailure(kind protocol.Kind, fallback any, h dispatch.Handler) dispatch.Handler {
	return func(ctx context.Context, msg *protocol.Message) (reply any, err error) {
		defer func() {
			if r := recover(); r != nil {
				c.log.WithFields(logrus.Fields{
					"kind":  kind,
					"panic": r,
				}).Error("Handler panicked")
				reply, err = fallback, nil
			}
		}()

		reply, err = h(ctx, msg)
		if err == nil {
			return reply, nil
		}
		code, message := apperrors.ToCodeAndMessage(err)
		c.log.WithFields(logrus.Fields{
			"kind": kind,
			"code": code,
		}).Warn(message)
		return fallback, nil
	}
}

func ignore(context.Context, *protocol.Message) (any, error) {
	return nil, nil
}

func (c *Client) handleWorkspaceDirectory(context.Context, *protocol.Message) (any, error) {
	return protocol.WorkspaceDirectoryReply{WorkspaceDirectory: c.workspaceDirectory()}, nil
}

func (c *Client) workspaceDirectory() string {
	if root, ok := c.surface.WorkspaceRoot(); ok && root != "" {
		return root
	}
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if profile := os.Getenv("USERPROFILE"); profile != "" {
		return profile
	}
	return "/"
}

func (c *Client) handleUniqueID(context.Context, *protocol.Message) (any, error) {
	return protocol.UniqueIDReply{UniqueID: c.surface.MachineID()}, nil
}

// handleGetUserSecret returns the configured value for the key. An unset key
// prompts the user; whatever they enter is stored for next time.
func (c *Client) handleGetUserSecret(ctx context.Context, msg *protocol.Message) (any, error) {
	var req protocol.GetUserSecretRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	if req.Key == "" {
		return nil, apperrors.InvalidMessage("getUserSecret requires a key", nil)
	}

	if value, ok := c.surface.ConfigValue(req.Key); ok {
		return protocol.GetUserSecretReply{Value: &value}, nil
	}

	value, ok, err := c.surface.PromptSecret(ctx, fmt.Sprintf(secretPrompt, req.Key))
	if err != nil {
		c.log.WithError(err).WithField("key", req.Key).Warn("Secret prompt failed")
		return protocol.GetUserSecretReply{}, nil
	}
	if !ok {
		return protocol.GetUserSecretReply{}, nil
	}
	if err := c.surface.SetConfigValue(req.Key, value); err != nil {
		c.log.WithError(err).WithField("key", req.Key).Warn("Failed to store secret")
	}
	return protocol.GetUserSecretReply{Value: &value}, nil
}
