package chat

import (
	"time"

	"github.com/harborchat/harbor/internal/events"
	"github.com/harborchat/harbor/internal/models"
	"github.com/harborchat/harbor/internal/store"
	"github.com/harborchat/harbor/internal/store/keys"
)

// SendMessage assigns a new monotonically increasing id within (guild,
// channel) under a write-exclusive region, stores the message, and emits
// SentMessage.
func (s *Service) SendMessage(actor, guild, channel models.ID, content string, replyTo *models.ID) (models.Message, error) {
	if err := s.CheckGuildUserChannel(guild, channel, actor); err != nil {
		return models.Message{}, err
	}
	if err := s.checkPermission(guild, &channel, actor, "messages.send", false); err != nil {
		return models.Message{}, err
	}
	if content == "" {
		return models.Message{}, errInvalidField("content")
	}

	lock := s.messageLock(guild, channel)
	lock.Lock()
	defer lock.Unlock()

	mid, err := s.nextMessageID(guild, channel)
	if err != nil {
		return models.Message{}, err
	}
	msg := models.Message{
		ID:        mid,
		Guild:     guild,
		Channel:   channel,
		Author:    actor,
		Content:   content,
		ReplyTo:   replyTo,
		CreatedAt: time.Now(),
	}
	if err := s.chat.Insert(keys.Message(uint64(guild), uint64(channel), uint64(mid)), encode(msg)); err != nil {
		return models.Message{}, errInternal(err)
	}

	s.bus.Publish(events.Broadcast{
		Sub:  events.GuildSub(guild),
		Kind: "SentMessage",
		PermCheck: &events.PermCheck{
			Permission: "messages.view",
			Channel:    &channel,
		},
		Payload: encode(msg),
	})
	return msg, nil
}

// nextMessageID increments and returns the (guild, channel) message
// counter. Callers must hold the channel's message lock so the
// read-increment-write is linearizable.
func (s *Service) nextMessageID(guild, channel models.ID) (models.ID, error) {
	key := keys.MessageSeq(uint64(guild), uint64(channel))
	var last uint64
	v, err := s.chat.Get(key)
	if err != nil {
		if err != store.ErrNotFound {
			return 0, errInternal(err)
		}
	} else {
		last, err = decode[uint64](v)
		if err != nil {
			return 0, errInternal(err)
		}
	}
	next := last + 1
	if err := s.chat.Insert(key, encode(next)); err != nil {
		return 0, errInternal(err)
	}
	return models.ID(next), nil
}

// GetMessage returns a single message, requiring messages.view.
func (s *Service) GetMessage(actor, guild, channel, message models.ID) (models.Message, error) {
	if err := s.CheckGuildUserChannel(guild, channel, actor); err != nil {
		return models.Message{}, err
	}
	if err := s.checkPermission(guild, &channel, actor, "messages.view", false); err != nil {
		return models.Message{}, err
	}
	v, err := s.chat.Get(keys.Message(uint64(guild), uint64(channel), uint64(message)))
	if err != nil {
		if err == store.ErrNotFound {
			return models.Message{}, errNoSuchMessage(message.String())
		}
		return models.Message{}, errInternal(err)
	}
	return decode[models.Message](v)
}

// EditMessage updates a message's content. Requires author identity or
// messages.manage.edit.
func (s *Service) EditMessage(actor, guild, channel, message models.ID, content string) (models.Message, error) {
	if err := s.CheckGuildUserChannel(guild, channel, actor); err != nil {
		return models.Message{}, err
	}
	msg, err := s.GetMessage(actor, guild, channel, message)
	if err != nil {
		return models.Message{}, err
	}
	if msg.Author != actor {
		if err := s.checkPermission(guild, &channel, actor, "messages.manage.edit", false); err != nil {
			return models.Message{}, err
		}
	}
	if content == "" {
		return models.Message{}, errInvalidField("content")
	}
	now := time.Now()
	msg.Content = content
	msg.EditedAt = &now
	if err := s.chat.Insert(keys.Message(uint64(guild), uint64(channel), uint64(message)), encode(msg)); err != nil {
		return models.Message{}, errInternal(err)
	}
	s.bus.Publish(events.Broadcast{
		Sub:       events.GuildSub(guild),
		Kind:      "EditedMessage",
		PermCheck: &events.PermCheck{Permission: "messages.view", Channel: &channel},
		Payload:   encode(msg),
	})
	return msg, nil
}

// DeleteMessage removes a message. Requires author identity or
// messages.manage.delete.
func (s *Service) DeleteMessage(actor, guild, channel, message models.ID) error {
	msg, err := s.GetMessage(actor, guild, channel, message)
	if err != nil {
		return err
	}
	if msg.Author != actor {
		if err := s.checkPermission(guild, &channel, actor, "messages.manage.delete", false); err != nil {
			return err
		}
	}
	if err := s.chat.Remove(keys.Message(uint64(guild), uint64(channel), uint64(message))); err != nil {
		return errInternal(err)
	}
	s.bus.Publish(events.Broadcast{
		Sub:  events.GuildSub(guild),
		Kind: "DeletedMessage",
		Payload: encode(struct {
			Guild, Channel, Message models.ID
		}{guild, channel, message}),
	})
	return nil
}

// Pin appends message to the channel's pinned-id list. Idempotent.
// Requires messages.manage.pin.
func (s *Service) Pin(actor, guild, channel, message models.ID) error {
	if err := s.CheckGuildUserChannel(guild, channel, actor); err != nil {
		return err
	}
	if err := s.checkPermission(guild, &channel, actor, "messages.manage.pin", false); err != nil {
		return err
	}
	if _, err := s.GetMessage(actor, guild, channel, message); err != nil {
		return err
	}

	pinned, err := s.pinnedList(guild, channel)
	if err != nil {
		return err
	}
	for _, id := range pinned {
		if id == message {
			return nil // already pinned: idempotent no-op
		}
	}
	pinned = append(pinned, message)
	if err := s.chat.Insert(keys.PinnedList(uint64(guild), uint64(channel)), encode(pinned)); err != nil {
		return errInternal(err)
	}
	s.bus.Publish(events.Broadcast{
		Sub:  events.GuildSub(guild),
		Kind: "MessagePinned",
		Payload: encode(struct {
			Guild, Channel, Message models.ID
		}{guild, channel, message}),
	})
	return nil
}

// GetPinnedMessages returns the channel's pinned message ids. Requires
// messages.view.
func (s *Service) GetPinnedMessages(actor, guild, channel models.ID) ([]models.ID, error) {
	if err := s.CheckGuildUserChannel(guild, channel, actor); err != nil {
		return nil, err
	}
	if err := s.checkPermission(guild, &channel, actor, "messages.view", false); err != nil {
		return nil, err
	}
	return s.pinnedList(guild, channel)
}

func (s *Service) pinnedList(guild, channel models.ID) ([]models.ID, error) {
	v, err := s.chat.Get(keys.PinnedList(uint64(guild), uint64(channel)))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, errInternal(err)
	}
	return decode[[]models.ID](v)
}
