// Package chat implements the conversation operations behind the REST API:
// contacts, history, message submission and conversation initiation.
package chat

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/jobchat/internal/directory"
	"github.com/zulandar/jobchat/internal/messaging"
	"github.com/zulandar/jobchat/internal/models"
)

// Pusher delivers persisted records to live connections. *gateway.Hub
// satisfies it.
type Pusher interface {
	Deliver(ctx context.Context, msg models.Message)
	Initiated(ctx context.Context, msg models.Message)
}

// Opts holds parameters for creating a Service.
type Opts struct {
	Store     *messaging.Store
	Directory *directory.Directory
	Pusher    Pusher // optional; nil disables server-side push
}

// Service is the conversation facade. It holds no per-request state and is
// safe for concurrent use.
type Service struct {
	store  *messaging.Store
	dir    *directory.Directory
	pusher Pusher
	log    *logrus.Entry
}

// New creates a Service.
func New(opts Opts) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("chat: store is required")
	}
	if opts.Directory == nil {
		return nil, fmt.Errorf("chat: directory is required")
	}
	return &Service{
		store:  opts.Store,
		dir:    opts.Directory,
		pusher: opts.Pusher,
		log:    logrus.WithField("component", "chat"),
	}, nil
}

// Contacts returns the public profiles of every user in the other role.
func (s *Service) Contacts(ctx context.Context, user string) ([]models.PublicProfile, error) {
	return s.dir.Contacts(ctx, user)
}

// History returns the messages between user and other, oldest first.
func (s *Service) History(ctx context.Context, user, other string) ([]models.Message, error) {
	return s.store.History(ctx, user, other)
}

// PostMessage stores body from sender to receiver. A retry of the same
// message within the duplicate window returns the stored record with
// created false. Newly stored messages are pushed to the receiver.
func (s *Service) PostMessage(ctx context.Context, sender, receiver, body string) (*models.Message, bool, error) {
	if err := s.checkUsers(ctx, sender, receiver); err != nil {
		return nil, false, err
	}
	msg, created, err := s.store.Submit(ctx, sender, receiver, body)
	if err != nil {
		return nil, false, err
	}

	s.log.WithFields(logrus.Fields{
		"sender":   sender,
		"receiver": receiver,
		"message":  msg.ID,
		"created":  created,
	}).Debug("chat: message posted")

	if created && s.pusher != nil {
		s.pusher.Deliver(ctx, *msg)
	}
	return msg, created, nil
}

// Ongoing returns the profiles of everyone user has exchanged a message with.
func (s *Service) Ongoing(ctx context.Context, user string) ([]models.PublicProfile, error) {
	partners, err := s.store.ConversationPartners(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.dir.Profiles(ctx, partners)
}

// Initiate returns the conversation marker between sender and receiver,
// creating it if the pair has never exchanged a message.
func (s *Service) Initiate(ctx context.Context, sender, receiver string) (*models.Message, bool, error) {
	if err := s.checkUsers(ctx, sender, receiver); err != nil {
		return nil, false, err
	}
	msg, created, err := s.store.Initiate(ctx, sender, receiver)
	if err != nil {
		return nil, false, err
	}
	if created && s.pusher != nil {
		s.pusher.Initiated(ctx, *msg)
	}
	return msg, created, nil
}

// MarkRead flags every message from other to user as read.
func (s *Service) MarkRead(ctx context.Context, user, other string) (int64, error) {
	return s.store.MarkRead(ctx, user, other)
}

// Unread returns unread message counts for user keyed by sender.
func (s *Service) Unread(ctx context.Context, user string) (map[string]int64, error) {
	return s.store.Unread(ctx, user)
}

// checkUsers validates the pair before touching the directory so a
// missing id reports ErrValidation rather than ErrNotFound.
func (s *Service) checkUsers(ctx context.Context, sender, receiver string) error {
	if sender == "" {
		return fmt.Errorf("chat: %w: sender is required", messaging.ErrValidation)
	}
	if receiver == "" {
		return fmt.Errorf("chat: %w: receiver is required", messaging.ErrValidation)
	}
	return s.dir.Exists(ctx, sender, receiver)
}
