// internal/repository/memory.go
//
// In-memory implementations of the repository interfaces. Used by tests and
// by STORE=memory deployments where a database is not available.
package repository

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/inboxd/omnichannel-backend/internal/errors"
	"github.com/inboxd/omnichannel-backend/internal/model"
)

type MemoryConversationRepository struct {
	mu    sync.Mutex
	byID  map[string]*model.Conversation
	byKey map[string]string // account_id + "\x00" + contact_identifier -> id
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		byID:  make(map[string]*model.Conversation),
		byKey: make(map[string]string),
	}
}

func convKey(accountID, contact string) string {
	return accountID + "\x00" + contact
}

func (r *MemoryConversationRepository) GetOrCreate(c *model.Conversation) (*model.Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[convKey(c.AccountID, c.ContactIdentifier)]; ok {
		cp := *r.byID[id]
		return &cp, false, nil
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.ConversationOpen
	}
	c.CreatedAt = time.Now()
	stored := *c
	r.byID[c.ID] = &stored
	r.byKey[convKey(c.AccountID, c.ContactIdentifier)] = c.ID
	cp := stored
	return &cp, true, nil
}

func (r *MemoryConversationRepository) GetByID(id string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryConversationRepository) ListByAccount(accountID string, offset, limit int) ([]*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []*model.Conversation{}
	for _, c := range r.byID {
		if c.AccountID == accountID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].LastMessageAt, out[j].LastMessageAt
		if ti == nil {
			return false
		}
		if tj == nil {
			return true
		}
		return ti.After(*tj)
	})
	if offset >= len(out) {
		return []*model.Conversation{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryConversationRepository) ApplyInbound(id string, at time.Time, window *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return appErrors.NewConversationNotFound(id)
	}
	if c.Status == model.ConversationClosed {
		c.Status = model.ConversationOpen
	}
	c.MessageCount++
	c.UnreadCount++
	t := at
	c.LastMessageAt = &t
	c.LastInboundAt = &t
	if window != nil {
		w := *window
		c.WindowExpiresAt = &w
		c.RequiresTemplate = false
	}
	return nil
}

func (r *MemoryConversationRepository) MarkOutbound(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return appErrors.NewConversationNotFound(id)
	}
	c.MessageCount++
	t := at
	c.LastMessageAt = &t
	c.LastOutboundAt = &t
	if c.FirstResponseAt == nil {
		c.FirstResponseAt = &t
	}
	return nil
}

func (r *MemoryConversationRepository) AssignAgent(id, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return appErrors.NewConversationNotFound(id)
	}
	c.AssignedAgent = agentID
	return nil
}

func (r *MemoryConversationRepository) AddTag(id, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return appErrors.NewConversationNotFound(id)
	}
	if !c.HasTag(tag) {
		c.Tags = append(c.Tags, tag)
	}
	return nil
}

func (r *MemoryConversationRepository) LinkLead(id, leadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return appErrors.NewConversationNotFound(id)
	}
	c.LeadID = leadID
	return nil
}

func (r *MemoryConversationRepository) SetContactName(id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return appErrors.NewConversationNotFound(id)
	}
	if c.ContactName == "" {
		c.ContactName = name
	}
	return nil
}

func (r *MemoryConversationRepository) UpdateStatus(id string, status model.ConversationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return appErrors.NewConversationNotFound(id)
	}
	c.Status = status
	return nil
}

type MemoryMessageRepository struct {
	mu    sync.Mutex
	byID  map[string]*model.Message
	dedup map[string]string // conversation_id + "\x00" + external_id -> id
	byExt map[string]string // external_id -> id
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{
		byID:  make(map[string]*model.Message),
		dedup: make(map[string]string),
		byExt: make(map[string]string),
	}
}

func (r *MemoryMessageRepository) Insert(m *model.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := m.ConversationID + "\x00" + m.ExternalID
	if m.ExternalID != "" {
		if _, ok := r.dedup[key]; ok {
			return false, nil
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = model.StatusPending
	}
	m.CreatedAt = time.Now()
	stored := *m
	r.byID[m.ID] = &stored
	if m.ExternalID != "" {
		r.dedup[key] = m.ID
		r.byExt[m.ExternalID] = m.ID
	}
	return true, nil
}

func (r *MemoryMessageRepository) GetByID(id string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryMessageRepository) GetByExternalID(externalID string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byExt[externalID]
	if !ok {
		return nil, nil
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *MemoryMessageRepository) ListByConversation(conversationID string, offset, limit int) ([]*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []*model.Message{}
	for _, m := range r.byID {
		if m.ConversationID == conversationID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*model.Message{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryMessageRepository) UpdateSendResult(id string, status model.MessageStatus, externalID, errCode, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil
	}
	m.Status = status
	if externalID != "" {
		m.ExternalID = externalID
		r.byExt[externalID] = id
		r.dedup[m.ConversationID+"\x00"+externalID] = id
	}
	m.ErrorCode = errCode
	m.ErrorMessage = errMsg
	t := at
	switch status {
	case model.StatusSent:
		m.SentAt = &t
	case model.StatusFailed:
		m.FailedAt = &t
	}
	return nil
}

func (r *MemoryMessageRepository) ApplyStatus(externalID string, status model.MessageStatus, at time.Time, errCode, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byExt[externalID]
	if !ok {
		return false, nil
	}
	m := r.byID[id]
	if !model.CanTransition(m.Status, status) {
		return false, nil
	}
	m.Status = status
	t := at
	switch status {
	case model.StatusSent:
		m.SentAt = &t
	case model.StatusDelivered:
		m.DeliveredAt = &t
	case model.StatusRead:
		m.ReadAt = &t
	case model.StatusFailed:
		m.FailedAt = &t
		m.ErrorCode = errCode
		m.ErrorMessage = errMsg
	}
	return true, nil
}

type MemoryChannelAccountRepository struct {
	mu   sync.Mutex
	byID map[string]*model.ChannelAccount
}

func NewMemoryChannelAccountRepository() *MemoryChannelAccountRepository {
	return &MemoryChannelAccountRepository{byID: make(map[string]*model.ChannelAccount)}
}

func (r *MemoryChannelAccountRepository) Create(a *model.ChannelAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = model.AccountActive
	}
	a.CreatedAt = time.Now()
	a.LimitResetAt = model.NextResetBoundary(a.CreatedAt)
	a.Healthy = true
	stored := *a
	r.byID[a.ID] = &stored
	return nil
}

func (r *MemoryChannelAccountRepository) GetByID(id string) (*model.ChannelAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, appErrors.NewAccountNotFound(id)
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryChannelAccountRepository) GetByExternal(channelType model.ChannelType, externalID string) (*model.ChannelAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byID {
		if a.ChannelType == channelType && a.ExternalID == externalID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryChannelAccountRepository) FindByVerifyToken(token string) (*model.ChannelAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byID {
		if a.VerifyToken != "" && a.VerifyToken == token {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryChannelAccountRepository) List(tenantID string) ([]*model.ChannelAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.ChannelAccount{}
	for _, a := range r.byID {
		if a.TenantID == tenantID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryChannelAccountRepository) TryIncrementSent(id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return false, appErrors.NewAccountNotFound(id)
	}
	if !a.LimitResetAt.After(now) {
		a.SentToday = 0
		a.LimitResetAt = model.NextResetBoundary(now)
	}
	if a.DailyLimit > 0 && a.SentToday >= a.DailyLimit {
		return false, nil
	}
	a.SentToday++
	return true, nil
}

func (r *MemoryChannelAccountRepository) UpdateHealth(id string, healthy bool, message string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return appErrors.NewAccountNotFound(id)
	}
	a.Healthy = healthy
	a.HealthMessage = message
	t := at
	a.LastHealthCheck = &t
	return nil
}

type MemoryAutomationRepository struct {
	mu    sync.Mutex
	rules map[string]*model.AutomationRule
	execs map[string]*model.AutomationExecution
	dedup map[string]bool // rule_id + "\x00" + message_id
}

func NewMemoryAutomationRepository() *MemoryAutomationRepository {
	return &MemoryAutomationRepository{
		rules: make(map[string]*model.AutomationRule),
		execs: make(map[string]*model.AutomationExecution),
		dedup: make(map[string]bool),
	}
}

func (r *MemoryAutomationRepository) CreateRule(rule *model.AutomationRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.CreatedAt = time.Now()
	stored := *rule
	r.rules[rule.ID] = &stored
	return nil
}

func (r *MemoryAutomationRepository) GetRule(id string) (*model.AutomationRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, nil
	}
	cp := *rule
	return &cp, nil
}

func (r *MemoryAutomationRepository) ActiveRules(tenantID string, triggers []string) ([]*model.AutomationRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]bool, len(triggers))
	for _, t := range triggers {
		wanted[t] = true
	}

	out := []*model.AutomationRule{}
	for _, rule := range r.rules {
		if rule.TenantID == tenantID && rule.Active && wanted[rule.TriggerType] {
			cp := *rule
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryAutomationRepository) CreateExecution(e *model.AutomationExecution) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := e.RuleID + "\x00" + e.MessageID
	if r.dedup[key] {
		return false, nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = model.ExecutionExecuting
	}
	e.TriggeredAt = time.Now()
	stored := *e
	r.execs[e.ID] = &stored
	r.dedup[key] = true
	return true, nil
}

func (r *MemoryAutomationRepository) FinishExecution(id string, status model.ExecutionStatus, result, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.execs[id]
	if !ok {
		return nil
	}
	e.Status = status
	e.Result = result
	e.ErrorMessage = errMsg
	now := time.Now()
	e.CompletedAt = &now
	return nil
}

func (r *MemoryAutomationRepository) ExecutionsForRule(ruleID string) ([]*model.AutomationExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.AutomationExecution{}
	for _, e := range r.execs {
		if e.RuleID == ruleID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.Before(out[j].TriggeredAt) })
	return out, nil
}

func (r *MemoryAutomationRepository) TouchRule(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil
	}
	t := at
	rule.LastTriggeredAt = &t
	rule.TimesTriggered++
	return nil
}

func (r *MemoryAutomationRepository) IncrementExecuted(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rule, ok := r.rules[id]; ok {
		rule.TimesExecuted++
	}
	return nil
}

type MemoryLeadRepository struct {
	mu   sync.Mutex
	byID map[string]*model.Lead
}

func NewMemoryLeadRepository() *MemoryLeadRepository {
	return &MemoryLeadRepository{byID: make(map[string]*model.Lead)}
}

func (r *MemoryLeadRepository) Create(l *model.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = model.LeadNew
	}
	l.CreatedAt = time.Now()
	l.UpdatedAt = l.CreatedAt
	stored := *l
	r.byID[l.ID] = &stored
	return nil
}

func (r *MemoryLeadRepository) GetByID(id string) (*model.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (r *MemoryLeadRepository) FindByPhone(tenantID, phone string) (*model.Lead, error) {
	if phone == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Lead
	for _, l := range r.byID {
		if l.TenantID == tenantID && l.Phone == phone {
			if best == nil || l.CreatedAt.Before(best.CreatedAt) {
				best = l
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r *MemoryLeadRepository) FindByEmail(tenantID, email string) (*model.Lead, error) {
	if email == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.Lead
	for _, l := range r.byID {
		if l.TenantID == tenantID && strings.EqualFold(l.Email, email) {
			if best == nil || l.CreatedAt.Before(best.CreatedAt) {
				best = l
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

type MemoryCredentialRepository struct {
	mu   sync.Mutex
	byID map[string]*model.Credential
}

func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{byID: make(map[string]*model.Credential)}
}

func (r *MemoryCredentialRepository) Create(c *model.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		if c.AuthType == model.AuthAPIKey {
			c.Status = model.CredentialValid
		} else {
			c.Status = model.CredentialNoToken
		}
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	stored := *c
	r.byID[c.ID] = &stored
	return nil
}

func (r *MemoryCredentialRepository) Get(id string) (*model.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryCredentialRepository) UpdateTokens(id, accessToken, refreshToken string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil
	}
	c.AccessToken = accessToken
	if refreshToken != "" {
		c.RefreshToken = refreshToken
	}
	t := expiresAt
	c.ExpiresAt = &t
	c.Status = model.CredentialValid
	c.LastError = ""
	c.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryCredentialRepository) SetStatus(id string, status model.CredentialStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil
	}
	c.Status = status
	c.LastError = lastError
	c.UpdatedAt = time.Now()
	return nil
}
