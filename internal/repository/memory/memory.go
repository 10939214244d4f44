// Package memory implements repository.Store in process memory.
//
// It is meant for development and tests. One mutex guards all state; Atomic
// holds it for the whole unit of work and restores a snapshot if the unit
// fails, which gives the same all-or-nothing behaviour as a SQL transaction.
package memory

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/messenger/internal/apperror"
	"github.com/sakif/messenger/internal/model"
	"github.com/sakif/messenger/internal/repository"
)

var _ repository.Store = (*Store)(nil)

type chatUser struct {
	chatID string
	userID string
}

type state struct {
	users   map[string]model.User
	chats   map[string]model.Chat
	secrets map[string]string

	members     map[string]model.Member
	memberOrder []string
	byChatUser  map[chatUser]string

	messages      []model.Message // ordered by ID
	nextMessageID int64
	lastCreatedOn time.Time

	tokens map[string]string // token -> userID
}

func newState() *state {
	return &state{
		users:      make(map[string]model.User),
		chats:      make(map[string]model.Chat),
		secrets:    make(map[string]string),
		members:    make(map[string]model.Member),
		byChatUser: make(map[chatUser]string),
		tokens:     make(map[string]string),
	}
}

func (st *state) clone() *state {
	c := &state{
		users:         make(map[string]model.User, len(st.users)),
		chats:         make(map[string]model.Chat, len(st.chats)),
		secrets:       make(map[string]string, len(st.secrets)),
		members:       make(map[string]model.Member, len(st.members)),
		memberOrder:   slices.Clone(st.memberOrder),
		byChatUser:    make(map[chatUser]string, len(st.byChatUser)),
		messages:      slices.Clone(st.messages),
		nextMessageID: st.nextMessageID,
		lastCreatedOn: st.lastCreatedOn,
		tokens:        make(map[string]string, len(st.tokens)),
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.chats {
		c.chats[k] = v
	}
	for k, v := range st.secrets {
		c.secrets[k] = v
	}
	for k, v := range st.members {
		c.members[k] = v
	}
	for k, v := range st.byChatUser {
		c.byChatUser[k] = v
	}
	for k, v := range st.tokens {
		c.tokens[k] = v
	}
	return c
}

// Store is an in-memory repository.Store.
type Store struct {
	mu *sync.Mutex
	st *state
	tx bool // true for the Store handed to an Atomic callback
}

// New returns an empty Store.
func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState()}
}

// Close is a no-op; it exists so the server can treat every backend alike.
func (s *Store) Close() error { return nil }

func (s *Store) lock() func() {
	if s.tx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Atomic(ctx context.Context, fn func(repository.Store) error) error {
	if s.tx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&Store{mu: s.mu, st: s.st, tx: true}); err != nil {
		*s.st = *snapshot
		return err
	}
	return nil
}

// =========================================================================
// USERS
// =========================================================================

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock()()

	if _, ok := s.st.users[user.ID]; ok {
		return apperror.Conflict("user", user.ID)
	}
	s.st.users[user.ID] = *user
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock()()

	u, ok := s.st.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return &u, nil
}

func (s *Store) FindUsersByName(ctx context.Context, part string) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock()()

	part = repository.FoldName(part)
	users := make([]model.User, 0)
	for _, u := range s.st.users {
		if strings.Contains(repository.FoldName(u.DisplayName), part) {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// =========================================================================
// CHATS & SECRETS
// =========================================================================

func (s *Store) CreateChat(ctx context.Context, chat *model.Chat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock()()

	chat.ID = xid.New().String()
	s.st.chats[chat.ID] = *chat
	return nil
}

func (s *Store) GetChatByID(ctx context.Context, id string) (*model.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock()()

	c, ok := s.st.chats[id]
	if !ok {
		return nil, apperror.NotFound("chat", id)
	}
	return &c, nil
}

func (s *Store) ListChatIDsByUser(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock()()

	return s.st.chatIDsOf(userID), nil
}

func (st *state) chatIDsOf(userID string) []string {
	ids := make([]string, 0)
	for _, memberID := range st.memberOrder {
		if m := st.members[memberID]; m.UserID == userID {
			ids = append(ids, m.ChatID)
		}
	}
	return ids
}

func (s *Store) FindCommonChatIDs(ctx context.Context, userA, userB string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock()()

	common := make([]string, 0)
	for _, chatID := range s.st.chatIDsOf(userA) {
		if _, ok := s.st.byChatUser[chatUser{chatID, userB}]; ok {
			common = append(common, chatID)
		}
	}
	return common, nil
}

func (s *Store) CreateChatSecret(ctx context.Context, secret *model.ChatSecret) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock()()

	if _, ok := s.st.secrets[secret.ChatID]; ok {
		return apperror.Conflict("chat secret", secret.ChatID)
	}
	s.st.secrets[secret.ChatID] = secret.Secret
	return nil
}

func (s *Store) GetChatSecret(ctx context.Context, chatID string) (*model.ChatSecret, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock()()

	secret, ok := s.st.secrets[chatID]
	if !ok {
		return nil, apperror.NotFound("chat secret", chatID)
	}
	return &model.ChatSecret{ChatID: chatID, Secret: secret}, nil
}

// =========================================================================
// MEMBERS
// =========================================================================

func (s *Store) AddMember(ctx context.Context, member *model.Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock()()

	key := chatUser{member.ChatID, member.UserID}
	if _, ok := s.st.byChatUser[key]; ok {
		return apperror.Conflict("member", member.ChatID+"/"+member.UserID)
	}

	member.ID = xid.New().String()
	s.st.members[member.ID] = *member
	s.st.memberOrder = append(s.st.memberOrder, member.ID)
	s.st.byChatUser[key] = member.ID
	return nil
}

func (s *Store) GetMember(ctx context.Context, chatID, userID string) (*model.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock()()

	id, ok := s.st.byChatUser[chatUser{chatID, userID}]
	if !ok {
		return nil, apperror.NotFound("member", chatID+"/"+userID)
	}
	m := s.st.members[id]
	return &m, nil
}

func (s *Store) GetMemberByID(ctx context.Context, memberID string) (*model.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock()()

	m, ok := s.st.members[memberID]
	if !ok {
		return nil, apperror.NotFound("member", memberID)
	}
	return &m, nil
}

func (s *Store) ListMembers(ctx context.Context, chatID string) ([]model.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock()()

	members := make([]model.Member, 0)
	for _, id := range s.st.memberOrder {
		if m := s.st.members[id]; m.ChatID == chatID {
			members = append(members, m)
		}
	}
	return members, nil
}

func (s *Store) DeleteMember(ctx context.Context, memberID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock()()

	m, ok := s.st.members[memberID]
	if !ok {
		return apperror.NotFound("member", memberID)
	}
	delete(s.st.members, memberID)
	delete(s.st.byChatUser, chatUser{m.ChatID, m.UserID})
	s.st.memberOrder = slices.DeleteFunc(s.st.memberOrder, func(id string) bool { return id == memberID })
	return nil
}

// =========================================================================
// MESSAGES
// =========================================================================

func (s *Store) CreateMessage(ctx context.Context, msg *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock()()

	// Two messages can land in the same clock tick; nudge forward so that
	// CreatedOn stays strictly increasing.
	now := time.Now().UTC()
	if !now.After(s.st.lastCreatedOn) {
		now = s.st.lastCreatedOn.Add(time.Nanosecond)
	}

	s.st.nextMessageID++
	msg.ID = s.st.nextMessageID
	msg.CreatedOn = now
	s.st.lastCreatedOn = now
	s.st.messages = append(s.st.messages, *msg)
	return nil
}

func (s *Store) GetMessageByID(ctx context.Context, id int64) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock()()

	i, ok := s.st.messageIndex(id)
	if !ok {
		return nil, apperror.NotFound("message", formatID(id))
	}
	m := s.st.messages[i]
	return &m, nil
}

func (st *state) messageIndex(id int64) (int, bool) {
	return slices.BinarySearchFunc(st.messages, id, func(m model.Message, id int64) int {
		switch {
		case m.ID < id:
			return -1
		case m.ID > id:
			return 1
		}
		return 0
	})
}

func (s *Store) ListMessages(ctx context.Context, chatID string, afterID int64) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock()()

	current := make(map[string]struct{})
	for _, m := range s.st.members {
		if m.ChatID == chatID {
			current[m.ID] = struct{}{}
		}
	}

	messages := make([]model.Message, 0)
	for _, m := range s.st.messages {
		if m.ID <= afterID {
			continue
		}
		if _, ok := current[m.MemberID]; ok {
			messages = append(messages, m)
		}
	}
	return messages, nil
}

func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock()()

	i, ok := s.st.messageIndex(id)
	if !ok {
		return apperror.NotFound("message", formatID(id))
	}
	s.st.messages = slices.Delete(s.st.messages, i, i+1)
	return nil
}

// =========================================================================
// REFRESH TOKENS
// =========================================================================

func (s *Store) CreateRefreshToken(ctx context.Context, token *model.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock()()

	if _, ok := s.st.tokens[token.Token]; ok {
		return apperror.Conflict("refresh token", "<redacted>")
	}
	s.st.tokens[token.Token] = token.UserID
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, token string) (*model.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock()()

	userID, ok := s.st.tokens[token]
	if !ok {
		return nil, apperror.NotFound("refresh token", "<redacted>")
	}
	return &model.RefreshToken{Token: token, UserID: userID}, nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, userID, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.lock()()

	if owner, ok := s.st.tokens[token]; !ok || owner != userID {
		return apperror.NotFound("refresh token", "<redacted>")
	}
	delete(s.st.tokens, token)
	return nil
}

func (s *Store) DeleteRefreshTokensByUser(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	defer s.lock()()

	var n int64
	for token, owner := range s.st.tokens {
		if owner == userID {
			delete(s.st.tokens, token)
			n++
		}
	}
	return n, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
