package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"edupanel.org/internal/apperr"
	"edupanel.org/internal/audit"
	"edupanel.org/internal/credential"
	"edupanel.org/internal/ids"
	"edupanel.org/internal/obs"
)

// Secondary steps reported in consistency warnings.
const (
	StepCompensateCredential = "compensate_credential"
	StepMirrorCredential     = "mirror_credential"
	StepDeleteCredential     = "delete_credential"
	StepCascadeAudit         = "cascade_audit"
)

const (
	defaultMinPasswordLength = 6
	defaultRole              = "student"
)

// Auditor is the slice of the audit log the provisioner writes to.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry, ps *apperr.PartialSuccess)
	DeleteForResource(ctx context.Context, resourceType, resourceID string) (int, error)
}

// Provisioner runs the account lifecycle. Steps inside one call are strictly
// sequential; concurrent calls coordinate only through store constraints.
type Provisioner struct {
	creds       credential.Store
	profiles    ProfileStore
	audit       Auditor
	now         func() time.Time
	minPassword int
	defaultRole string
	roles       map[string]bool
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(p *Provisioner) {
		if fn != nil {
			p.now = fn
		}
	}
}

// WithMinPasswordLength sets the minimum accepted password length.
func WithMinPasswordLength(n int) Option {
	return func(p *Provisioner) {
		if n > 0 {
			p.minPassword = n
		}
	}
}

// WithDefaultRole sets the role embedded in credential metadata when the
// input names none.
func WithDefaultRole(role string) Option {
	return func(p *Provisioner) {
		if role = strings.TrimSpace(role); role != "" {
			p.defaultRole = role
		}
	}
}

// WithRoles restricts the roles a new account may carry to ids plus the
// default role. Without it any role string is accepted.
func WithRoles(ids ...string) Option {
	return func(p *Provisioner) {
		p.roles = make(map[string]bool, len(ids))
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				p.roles[id] = true
			}
		}
	}
}

// DefaultRole is the role given to accounts created without one.
func (p *Provisioner) DefaultRole() string { return p.defaultRole }

// NewProvisioner wires the provisioner to its stores.
func NewProvisioner(creds credential.Store, profiles ProfileStore, auditor Auditor, opts ...Option) (*Provisioner, error) {
	if creds == nil || profiles == nil || auditor == nil {
		return nil, errors.New("account: credential store, profile store and auditor are required")
	}
	p := &Provisioner{
		creds:       creds,
		profiles:    profiles,
		audit:       auditor,
		now:         time.Now,
		minPassword: defaultMinPasswordLength,
		defaultRole: defaultRole,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Create provisions a credential entity and a profile row. When the profile
// insert fails the credential entity is deleted again; the outcome of that
// compensation is attached to the returned StoreError as a warning.
func (p *Provisioner) Create(ctx context.Context, in CreateInput) (Account, apperr.PartialSuccess, error) {
	var ps apperr.PartialSuccess
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = normalizeEmail(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.ParentPhone = strings.TrimSpace(in.ParentPhone)
	in.Role = strings.TrimSpace(in.Role)
	if err := p.validateCreate(in); err != nil {
		return Account{}, ps, err
	}
	role := in.Role
	if role == "" {
		role = p.defaultRole
	}
	status := in.Status
	if status == "" {
		status = StatusActive
	}

	credID, err := p.creds.Create(ctx, credential.CreateRequest{
		Email:       in.Email,
		Password:    in.Password,
		AutoConfirm: true,
		Metadata: map[string]any{
			"role":      role,
			"full_name": in.FullName,
			"phone":     in.Phone,
		},
	})
	if err != nil {
		obs.AccountOperation("create", "error")
		if errors.Is(err, apperr.ErrConflict) {
			return Account{}, ps, &apperr.DuplicateError{Field: "email", Value: in.Email}
		}
		return Account{}, ps, &apperr.StoreError{Store: apperr.StoreCredential, Op: "create credential", Err: err}
	}

	now := p.now().UTC()
	acc := Account{
		ID:             ids.New(),
		CredentialRef:  credID,
		FullName:       in.FullName,
		Email:          in.Email,
		Phone:          in.Phone,
		ParentPhone:    in.ParentPhone,
		Status:         status,
		ExpiresAt:      in.ExpiresAt,
		EnrollmentDate: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := p.profiles.InsertAccount(ctx, acc); err != nil {
		obs.AccountOperation("create", "error")
		obs.Logger().Error().
			Err(err).
			Str("event", "forward_step_failed").
			Str("step", "insert_profile").
			Str("account_id", acc.ID).
			Str("credential_id", credID).
			Msg("profile insert failed")
		storeErr := &apperr.StoreError{Store: apperr.StoreProfile, Op: "insert account", Err: err}
		if w, failed := p.compensateCredential(ctx, credID); failed {
			storeErr.Warnings = append(storeErr.Warnings, w)
		}
		return Account{}, ps, storeErr
	}

	p.audit.Record(ctx, audit.Entry{
		Action:       "account_created",
		ActionType:   audit.ActionCreate,
		ResourceType: audit.ResourceUser,
		ResourceID:   acc.ID,
		Severity:     audit.SeverityMedium,
		Status:       audit.StatusSuccess,
		Details:      map[string]any{"email": acc.Email, "full_name": acc.FullName, "role": role},
	}, &ps)
	obs.AccountOperation("create", result(ps))
	return acc, ps, nil
}

func (p *Provisioner) compensateCredential(ctx context.Context, credID string) (apperr.ConsistencyWarning, bool) {
	err := p.creds.DeleteByID(ctx, credID)
	if err == nil || errors.Is(err, apperr.ErrNotFound) {
		obs.Compensation("succeeded")
		obs.Logger().Info().
			Str("event", "compensation").
			Str("step", StepCompensateCredential).
			Str("outcome", "succeeded").
			Str("credential_id", credID).
			Msg("credential entity removed")
		return apperr.ConsistencyWarning{}, false
	}
	obs.Compensation("failed")
	obs.ConsistencyWarning(StepCompensateCredential)
	obs.Logger().Error().
		Err(err).
		Str("event", "compensation").
		Str("step", StepCompensateCredential).
		Str("outcome", "failed").
		Str("credential_id", credID).
		Msg("credential entity orphaned")
	return apperr.ConsistencyWarning{Step: StepCompensateCredential, Store: apperr.StoreCredential, Err: err}, true
}

func (p *Provisioner) validateCreate(in CreateInput) error {
	var fields []apperr.FieldError
	if err := apperr.ValidateStruct(in); err != nil {
		var ve *apperr.ValidationError
		if !errors.As(err, &ve) {
			return err
		}
		fields = append(fields, ve.Fields...)
	}
	if in.Password != "" && len([]rune(in.Password)) < p.minPassword {
		fields = append(fields, apperr.FieldError{
			Field:   "password",
			Message: fmt.Sprintf("password must be at least %d characters in length", p.minPassword),
		})
	}
	if in.Status != "" && !in.Status.Valid() {
		fields = append(fields, apperr.FieldError{Field: "status", Message: "unknown status " + string(in.Status)})
	}
	if in.Role != "" && in.Role != p.defaultRole && p.roles != nil && !p.roles[in.Role] {
		fields = append(fields, apperr.FieldError{Field: "role", Message: "unknown role " + in.Role})
	}
	if len(fields) > 0 {
		return &apperr.ValidationError{Fields: fields}
	}
	return nil
}

// Get returns one account.
func (p *Provisioner) Get(ctx context.Context, id string) (Account, error) {
	return p.load(ctx, id)
}

// List returns accounts newest enrollment first.
func (p *Provisioner) List(ctx context.Context, f ListFilter) ([]Account, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Invalid("status", "unknown status "+string(f.Status))
	}
	out, err := p.profiles.ListAccounts(ctx, f)
	if err != nil {
		return nil, &apperr.StoreError{Store: apperr.StoreProfile, Op: "list accounts", Err: err}
	}
	return out, nil
}

func (p *Provisioner) load(ctx context.Context, id string) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, apperr.Invalid("id", "account id is required")
	}
	acc, err := p.profiles.GetAccount(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return Account{}, &apperr.NotFoundError{Resource: "account", ID: id}
	}
	if err != nil {
		return Account{}, &apperr.StoreError{Store: apperr.StoreProfile, Op: "load account", Err: err}
	}
	return acc, nil
}

// Update writes the patch to the profile store, then mirrors identity fields
// into the credential entity. A failed mirror is reported as a warning only.
func (p *Provisioner) Update(ctx context.Context, id string, patch Patch) (Account, apperr.PartialSuccess, error) {
	var ps apperr.PartialSuccess
	if err := validatePatch(&patch); err != nil {
		return Account{}, ps, err
	}
	acc, err := p.load(ctx, id)
	if err != nil {
		return Account{}, ps, err
	}

	var changed []string
	meta := map[string]any{}
	var credPatch credential.Patch
	if patch.FullName != nil {
		acc.FullName = *patch.FullName
		meta["full_name"] = acc.FullName
		changed = append(changed, "full_name")
	}
	if patch.Email != nil {
		acc.Email = *patch.Email
		credPatch.Email = &acc.Email
		changed = append(changed, "email")
	}
	if patch.Phone != nil {
		acc.Phone = *patch.Phone
		meta["phone"] = acc.Phone
		changed = append(changed, "phone")
	}
	if patch.ParentPhone != nil {
		acc.ParentPhone = *patch.ParentPhone
		changed = append(changed, "parent_phone")
	}
	if patch.ExpiresAt != nil {
		exp := patch.ExpiresAt.UTC()
		acc.ExpiresAt = &exp
		changed = append(changed, "expires_at")
	}
	acc.UpdatedAt = p.now().UTC()

	if err := p.writeProfile(ctx, acc, "update account"); err != nil {
		obs.AccountOperation("update", "error")
		return Account{}, ps, err
	}

	if acc.CredentialRef != "" && (credPatch.Email != nil || len(meta) > 0) {
		if len(meta) > 0 {
			credPatch.Metadata = meta
		}
		if err := p.creds.UpdateByID(ctx, acc.CredentialRef, credPatch); err != nil {
			p.warn(&ps, StepMirrorCredential, apperr.StoreCredential, acc.ID, err)
		}
	}

	p.audit.Record(ctx, audit.Entry{
		Action:       "account_updated",
		ActionType:   audit.ActionUpdate,
		ResourceType: audit.ResourceUser,
		ResourceID:   acc.ID,
		Severity:     audit.SeverityLow,
		Status:       audit.StatusSuccess,
		Details:      map[string]any{"fields": changed},
	}, &ps)
	obs.AccountOperation("update", result(ps))
	return acc, ps, nil
}

func validatePatch(patch *Patch) error {
	if patch.IsEmpty() {
		return apperr.Invalid("patch", "no fields to update")
	}
	var fields []apperr.FieldError
	if patch.FullName != nil {
		v := strings.TrimSpace(*patch.FullName)
		patch.FullName = &v
		if v == "" {
			fields = append(fields, apperr.FieldError{Field: "full_name", Message: "full_name must not be empty"})
		}
	}
	if patch.Email != nil {
		v := normalizeEmail(*patch.Email)
		patch.Email = &v
		if v == "" {
			fields = append(fields, apperr.FieldError{Field: "email", Message: "email must not be empty"})
		}
	}
	if patch.Phone != nil {
		v := strings.TrimSpace(*patch.Phone)
		patch.Phone = &v
	}
	if patch.ParentPhone != nil {
		v := strings.TrimSpace(*patch.ParentPhone)
		patch.ParentPhone = &v
	}
	if len(fields) > 0 {
		return &apperr.ValidationError{Fields: fields}
	}
	return nil
}

// SetStatus moves an account to another lifecycle state.
func (p *Provisioner) SetStatus(ctx context.Context, id string, status Status) (Account, apperr.PartialSuccess, error) {
	var ps apperr.PartialSuccess
	if !status.Valid() {
		return Account{}, ps, apperr.Invalid("status", "unknown status "+string(status))
	}
	acc, err := p.load(ctx, id)
	if err != nil {
		return Account{}, ps, err
	}
	from := acc.Status
	acc.Status = status
	acc.UpdatedAt = p.now().UTC()
	if err := p.writeProfile(ctx, acc, "update status"); err != nil {
		obs.AccountOperation("set_status", "error")
		return Account{}, ps, err
	}
	p.audit.Record(ctx, audit.Entry{
		Action:       "account_status_changed",
		ActionType:   audit.ActionUpdate,
		ResourceType: audit.ResourceUser,
		ResourceID:   acc.ID,
		Severity:     audit.SeverityMedium,
		Status:       audit.StatusSuccess,
		Details:      map[string]any{"from": string(from), "to": string(status)},
	}, &ps)
	obs.AccountOperation("set_status", result(ps))
	return acc, ps, nil
}

func (p *Provisioner) writeProfile(ctx context.Context, acc Account, op string) error {
	err := p.profiles.UpdateAccount(ctx, acc)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrNotFound):
		return &apperr.NotFoundError{Resource: "account", ID: acc.ID}
	case errors.Is(err, apperr.ErrConflict):
		return &apperr.DuplicateError{Field: "email", Value: acc.Email}
	default:
		return &apperr.StoreError{Store: apperr.StoreProfile, Op: op, Err: err}
	}
}

// Delete removes the account's audit history, its profile row (with grants)
// and finally its credential entity. Only the profile delete can fail the
// call; the credential delete is always attempted afterwards.
func (p *Provisioner) Delete(ctx context.Context, id string) (Account, apperr.PartialSuccess, error) {
	var ps apperr.PartialSuccess
	acc, err := p.load(ctx, id)
	if err != nil {
		return Account{}, ps, err
	}

	if _, err := p.audit.DeleteForResource(ctx, audit.ResourceUser, acc.ID); err != nil {
		p.warn(&ps, StepCascadeAudit, apperr.StoreAudit, acc.ID, err)
	}

	if err := p.profiles.DeleteAccount(ctx, acc.ID); err != nil {
		obs.AccountOperation("delete", "error")
		if errors.Is(err, apperr.ErrNotFound) {
			return Account{}, ps, &apperr.NotFoundError{Resource: "account", ID: acc.ID}
		}
		return Account{}, ps, &apperr.StoreError{Store: apperr.StoreProfile, Op: "delete account", Err: err}
	}

	if acc.CredentialRef != "" {
		if err := p.creds.DeleteByID(ctx, acc.CredentialRef); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			p.warn(&ps, StepDeleteCredential, apperr.StoreCredential, acc.ID, err)
		}
	}

	p.audit.Record(ctx, audit.Entry{
		Action:       "account_deleted",
		ActionType:   audit.ActionDelete,
		ResourceType: audit.ResourceUser,
		ResourceID:   acc.ID,
		Severity:     audit.SeverityHigh,
		Status:       audit.StatusSuccess,
		Details:      map[string]any{"email": acc.Email, "full_name": acc.FullName},
	}, &ps)
	obs.AccountOperation("delete", result(ps))
	return acc, ps, nil
}

func (p *Provisioner) warn(ps *apperr.PartialSuccess, step string, store apperr.Store, accountID string, err error) {
	ps.Add(apperr.ConsistencyWarning{Step: step, Store: store, Err: err})
	obs.ConsistencyWarning(step)
	obs.Logger().Warn().
		Err(err).
		Str("event", "consistency_warning").
		Str("step", step).
		Str("store", string(store)).
		Str("account_id", accountID).
		Msg("secondary step failed")
}

func result(ps apperr.PartialSuccess) string {
	if ps.Degraded() {
		return "partial"
	}
	return "ok"
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
