package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"giftline/internal/domain"
	"giftline/internal/engine/auth"
	"giftline/internal/events"
	"giftline/internal/repo"
)

// PreferenceInput is one ranked wish supplied at creation.
type PreferenceInput struct {
	GiftID int64 `validate:"gt=0"`
	Rank   int   `validate:"gte=1"`
}

// CreateRecipientOptions are parameters for registering a recipient. Empty
// codes take domain.DefaultEligibility and domain.DefaultDeliveryStatus.
type CreateRecipientOptions struct {
	Name           string `validate:"required,max=200"`
	Address        string `validate:"required,max=500"`
	RegionID       int64  `validate:"gt=0"`
	Eligibility    string
	DeliveryStatus string
	Note           string
	Preferences    []PreferenceInput `validate:"dive"`
}

// CreateRecipient inserts a recipient and its preferences atomically.
func (e Engine) CreateRecipient(ctx context.Context, scope auth.Scope, opts CreateRecipientOptions) (domain.Recipient, error) {
	if err := scope.Require(domain.PermRecipientsWrite); err != nil {
		return domain.Recipient{}, err
	}
	opts.Name = strings.TrimSpace(opts.Name)
	opts.Address = strings.TrimSpace(opts.Address)
	opts.Eligibility = normalizeCode(opts.Eligibility)
	opts.DeliveryStatus = normalizeCode(opts.DeliveryStatus)
	if opts.Eligibility == "" {
		opts.Eligibility = domain.DefaultEligibility
	}
	if opts.DeliveryStatus == "" {
		opts.DeliveryStatus = domain.DefaultDeliveryStatus
	}
	if err := check(opts); err != nil {
		return domain.Recipient{}, err
	}
	ranks := map[int]bool{}
	for _, p := range opts.Preferences {
		if ranks[p.Rank] {
			return domain.Recipient{}, invalid("duplicate_rank", "rank %d appears more than once", p.Rank).with("rank", p.Rank)
		}
		ranks[p.Rank] = true
	}

	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Recipient{}, err
	}
	defer tx.Rollback()
	if err := e.checkRecipientRefsTx(ctx, tx, opts.RegionID, opts.Eligibility, opts.DeliveryStatus); err != nil {
		return domain.Recipient{}, err
	}
	if err := e.checkGiftsExistTx(ctx, tx, opts.Preferences); err != nil {
		return domain.Recipient{}, err
	}
	rc := domain.Recipient{
		Name:           opts.Name,
		Address:        opts.Address,
		RegionID:       opts.RegionID,
		Eligibility:    opts.Eligibility,
		DeliveryStatus: opts.DeliveryStatus,
		Note:           strings.TrimSpace(opts.Note),
	}
	rc.ID, err = e.Repo.InsertRecipientTx(ctx, tx, rc)
	if err != nil {
		return domain.Recipient{}, storeErr(err, "recipient")
	}
	for _, p := range opts.Preferences {
		if _, err := e.Repo.InsertPreferenceTx(ctx, tx, domain.Preference{RecipientID: rc.ID, GiftID: p.GiftID, Rank: p.Rank}); err != nil {
			return domain.Recipient{}, storeErr(err, "preference")
		}
	}
	rc.Preferences, err = e.Repo.PreferencesTx(ctx, tx, rc.ID)
	if err != nil {
		return domain.Recipient{}, err
	}
	if err := e.eventLog().Append(ctx, tx, events.RecipientCreated, "recipient", rc.ID, scope.StaffID, events.EventPayload{
		"preferences": len(rc.Preferences),
	}); err != nil {
		return domain.Recipient{}, err
	}
	if err := commit(tx); err != nil {
		return domain.Recipient{}, err
	}
	return rc, nil
}

func (e Engine) checkRecipientRefsTx(ctx context.Context, tx *sql.Tx, regionID int64, eligibility, delivery string) error {
	if regionID != 0 {
		ok, err := e.Repo.RegionExistsTx(ctx, tx, regionID)
		if err != nil {
			return err
		}
		if !ok {
			return invalid("unknown_region", "region %d does not exist", regionID).with("region_id", regionID)
		}
	}
	if eligibility != "" {
		if _, err := e.Repo.GetCodeTx(ctx, tx, repo.EligibilityCodes, eligibility); errors.Is(err, repo.ErrNotFound) {
			return invalid("unknown_code", "eligibility code %s does not exist", eligibility).with("code", eligibility)
		} else if err != nil {
			return err
		}
	}
	if delivery != "" {
		if _, err := e.Repo.GetCodeTx(ctx, tx, repo.DeliveryStatusCodes, delivery); errors.Is(err, repo.ErrNotFound) {
			return invalid("unknown_code", "delivery status code %s does not exist", delivery).with("code", delivery)
		} else if err != nil {
			return err
		}
	}
	return nil
}

func (e Engine) checkGiftsExistTx(ctx context.Context, tx *sql.Tx, prefs []PreferenceInput) error {
	if len(prefs) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(prefs))
	for _, p := range prefs {
		ids = append(ids, p.GiftID)
	}
	gifts, err := e.Repo.GiftsByIDTx(ctx, tx, ids)
	if err != nil {
		return err
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := gifts[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return invalid("unknown_gift", "unknown gift ids %v", missing).with("gift_ids", missing)
	}
	return nil
}

// RecipientQuery filters ListRecipients.
type RecipientQuery struct {
	RegionID       int64
	Eligibility    string
	DeliveryStatus string
	Limit          int
	Offset         int
}

func (e Engine) ListRecipients(ctx context.Context, scope auth.Scope, q RecipientQuery) ([]domain.Recipient, error) {
	if err := scope.Require(domain.PermRecipientsRead); err != nil {
		return nil, err
	}
	return e.Repo.ListRecipients(ctx, repo.RecipientFilters{
		RegionID:       q.RegionID,
		Eligibility:    normalizeCode(q.Eligibility),
		DeliveryStatus: normalizeCode(q.DeliveryStatus),
		Limit:          q.Limit,
		Offset:         q.Offset,
	})
}

// GetRecipient returns a recipient with its preference list.
func (e Engine) GetRecipient(ctx context.Context, scope auth.Scope, id int64) (domain.Recipient, error) {
	if err := scope.Require(domain.PermRecipientsRead); err != nil {
		return domain.Recipient{}, err
	}
	return e.recipientWithPreferences(ctx, id)
}

func (e Engine) recipientWithPreferences(ctx context.Context, id int64) (domain.Recipient, error) {
	rc, err := e.Repo.GetRecipient(ctx, id)
	if err != nil {
		return domain.Recipient{}, storeErr(err, fmt.Sprintf("recipient %d", id))
	}
	rc.Preferences, err = e.Repo.Preferences(ctx, id)
	if err != nil {
		return domain.Recipient{}, err
	}
	return rc, nil
}

// UpdateRecipientOptions hold client-editable fields. Delivery status is set
// only by fulfillment.
type UpdateRecipientOptions struct {
	ID          int64
	Name        *string
	Address     *string
	RegionID    *int64
	Eligibility *string
	Note        *string
}

func (e Engine) UpdateRecipient(ctx context.Context, scope auth.Scope, opts UpdateRecipientOptions) (domain.Recipient, error) {
	if err := scope.Require(domain.PermRecipientsWrite); err != nil {
		return domain.Recipient{}, err
	}
	patch := repo.RecipientPatch{RegionID: opts.RegionID, Note: opts.Note, Address: opts.Address}
	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if name == "" {
			return domain.Recipient{}, invalid("validation_failed", "name must not be empty")
		}
		patch.Name = &name
	}
	var regionID int64
	if opts.RegionID != nil {
		regionID = *opts.RegionID
		if regionID <= 0 {
			return domain.Recipient{}, invalid("validation_failed", "region_id must be positive")
		}
	}
	var eligibility string
	if opts.Eligibility != nil {
		eligibility = normalizeCode(*opts.Eligibility)
		if eligibility == "" {
			return domain.Recipient{}, invalid("validation_failed", "eligibility must not be empty")
		}
		patch.Eligibility = &eligibility
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Recipient{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetRecipientTx(ctx, tx, opts.ID); err != nil {
		return domain.Recipient{}, storeErr(err, fmt.Sprintf("recipient %d", opts.ID))
	}
	if err := e.checkRecipientRefsTx(ctx, tx, regionID, eligibility, ""); err != nil {
		return domain.Recipient{}, err
	}
	if err := e.Repo.UpdateRecipientTx(ctx, tx, opts.ID, patch); err != nil {
		return domain.Recipient{}, storeErr(err, fmt.Sprintf("recipient %d", opts.ID))
	}
	if err := e.eventLog().Append(ctx, tx, events.RecipientUpdated, "recipient", opts.ID, scope.StaffID, nil); err != nil {
		return domain.Recipient{}, err
	}
	if err := commit(tx); err != nil {
		return domain.Recipient{}, err
	}
	return e.recipientWithPreferences(ctx, opts.ID)
}

// DeleteRecipient removes a recipient with its preferences and open group
// memberships. Recipients with delivery history are kept.
func (e Engine) DeleteRecipient(ctx context.Context, scope auth.Scope, id int64) error {
	if err := scope.Require(domain.PermRecipientsWrite); err != nil {
		return err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetRecipientTx(ctx, tx, id); err != nil {
		return storeErr(err, fmt.Sprintf("recipient %d", id))
	}
	history, err := e.Repo.RecipientHistoryTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if history > 0 {
		return conflict("recipient_has_history", "recipient %d has delivery history and cannot be deleted", id).
			with("recipient_id", id)
	}
	dropped, err := e.Repo.DropOpenMembershipsTx(ctx, tx, id)
	if err != nil {
		return storeErr(err, "group items")
	}
	if err := e.Repo.DeleteRecipientTx(ctx, tx, id); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return conflict("recipient_has_history", "recipient %d is still referenced", id).with("recipient_id", id)
		}
		return storeErr(err, fmt.Sprintf("recipient %d", id))
	}
	if err := e.eventLog().Append(ctx, tx, events.RecipientDeleted, "recipient", id, scope.StaffID, events.EventPayload{
		"memberships_dropped": dropped,
	}); err != nil {
		return err
	}
	return commit(tx)
}

// AddPreference appends a ranked wish to an existing recipient.
func (e Engine) AddPreference(ctx context.Context, scope auth.Scope, recipientID int64, in PreferenceInput) (domain.Preference, error) {
	if err := scope.Require(domain.PermRecipientsWrite); err != nil {
		return domain.Preference{}, err
	}
	if err := check(in); err != nil {
		return domain.Preference{}, err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Preference{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetRecipientTx(ctx, tx, recipientID); err != nil {
		return domain.Preference{}, storeErr(err, fmt.Sprintf("recipient %d", recipientID))
	}
	gift, err := e.Repo.GetGiftTx(ctx, tx, in.GiftID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Preference{}, invalid("unknown_gift", "unknown gift ids [%d]", in.GiftID).with("gift_ids", []int64{in.GiftID})
	}
	if err != nil {
		return domain.Preference{}, err
	}
	p := domain.Preference{RecipientID: recipientID, GiftID: gift.ID, GiftName: gift.Name, Rank: in.Rank}
	p.ID, err = e.Repo.InsertPreferenceTx(ctx, tx, p)
	if errors.Is(err, repo.ErrConflict) {
		return domain.Preference{}, conflict("duplicate_rank", "recipient %d already has a rank %d preference", recipientID, in.Rank)
	}
	if err != nil {
		return domain.Preference{}, storeErr(err, "preference")
	}
	if err := e.eventLog().Append(ctx, tx, events.PreferenceAdded, "recipient", recipientID, scope.StaffID, events.EventPayload{
		"gift_id": gift.ID,
		"rank":    in.Rank,
	}); err != nil {
		return domain.Preference{}, err
	}
	if err := commit(tx); err != nil {
		return domain.Preference{}, err
	}
	return p, nil
}

func (e Engine) DeletePreference(ctx context.Context, scope auth.Scope, recipientID, preferenceID int64) error {
	if err := scope.Require(domain.PermRecipientsWrite); err != nil {
		return err
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeletePreferenceTx(ctx, tx, recipientID, preferenceID); err != nil {
		return storeErr(err, fmt.Sprintf("preference %d", preferenceID))
	}
	if err := e.eventLog().Append(ctx, tx, events.PreferenceRemoved, "recipient", recipientID, scope.StaffID, events.EventPayload{
		"preference_id": preferenceID,
	}); err != nil {
		return err
	}
	return commit(tx)
}

// EligibleTargets lists NICE recipients not yet delivered, optionally in
// one region.
func (e Engine) EligibleTargets(ctx context.Context, scope auth.Scope, regionID int64) ([]domain.Recipient, error) {
	if err := scope.Require(domain.PermTargetsRead); err != nil {
		return nil, err
	}
	return e.Repo.ListRecipients(ctx, repo.RecipientFilters{
		RegionID:              regionID,
		Eligibility:           domain.EligibilityNice,
		ExcludeDeliveryStatus: domain.DeliveryDelivered,
	})
}

// Target returns an eligible target with its preferences. Recipients that
// are not eligible targets are reported as not found.
func (e Engine) Target(ctx context.Context, scope auth.Scope, id int64) (domain.Recipient, error) {
	if err := scope.Require(domain.PermTargetsRead); err != nil {
		return domain.Recipient{}, err
	}
	rc, err := e.recipientWithPreferences(ctx, id)
	if err != nil {
		return domain.Recipient{}, err
	}
	if rc.Eligibility != domain.EligibilityNice || rc.DeliveryStatus == domain.DeliveryDelivered {
		return domain.Recipient{}, notFound("target %d not found", id)
	}
	return rc, nil
}

// SuggestAssignments picks, for each NICE recipient still pending delivery,
// the best-ranked preference whose gift is in stock. Nothing is persisted.
func (e Engine) SuggestAssignments(ctx context.Context, scope auth.Scope, regionID int64) ([]domain.Assignment, error) {
	if err := scope.Require(domain.PermTargetsRead); err != nil {
		return nil, err
	}
	candidates, err := e.Repo.InStockPreferences(ctx, regionID)
	if err != nil {
		return nil, err
	}
	best := map[int64]domain.Assignment{}
	for _, c := range candidates {
		if cur, ok := best[c.RecipientID]; !ok || c.Rank < cur.Rank {
			best[c.RecipientID] = c
		}
	}
	res := make([]domain.Assignment, 0, len(best))
	for _, a := range best {
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].RecipientID < res[j].RecipientID })
	return res, nil
}

// GiftDemand summarizes wishes of eligible targets per gift.
func (e Engine) GiftDemand(ctx context.Context, scope auth.Scope) ([]domain.GiftDemand, error) {
	if err := scope.Require(domain.PermStatsRead); err != nil {
		return nil, err
	}
	return e.Repo.GiftDemand(ctx)
}
