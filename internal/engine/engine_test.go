package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"giftline/internal/app"
	"giftline/internal/config"
	"giftline/internal/domain"
	"giftline/internal/engine"
	"giftline/internal/engine/auth"
	"giftline/internal/events"
	"giftline/internal/repo"
)

// Seeded ids: staff admin=1 santa=2 listelf=3 giftelf=4 keeper=5; recipients
// Alice=1 Bruno=2 Chen=3 Dana=4; gifts Game Console=1 Hat=2 Bag=3 Doll=4
// Book=5; fleet Rudolph=1 Dasher=2 Dancer=3 Comet=4.
const (
	alice = int64(1)
	bruno = int64(2)

	gameConsole = int64(1)
	hat         = int64(2)
	bag         = int64(3)
	doll        = int64(4)

	dragonScale = int64(1)
	starDust    = int64(2)
	sunShard    = int64(3)

	rudolph = int64(1)
	dasher  = int64(2)
	dancer  = int64(3)
	comet   = int64(4)
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Cfg    *config.Config
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "giftline.db")
	ctx := context.Background()
	eng, conn, err := app.Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	eng.Now = func() time.Time { return time.Date(2024, 12, 24, 18, 0, 0, 0, time.UTC) }
	rep, err := app.Seed(ctx, eng)
	require.NoError(t, err)
	require.False(t, rep.Skipped)
	return testEnv{Engine: eng, Ctx: ctx, Cfg: cfg}
}

func (env testEnv) as(t *testing.T, staffID int64, role string) auth.Scope {
	t.Helper()
	perms, ok := env.Cfg.RolePermissions(role)
	require.True(t, ok, "role %s", role)
	return auth.NewScope(staffID, role, perms)
}

func (env testEnv) santa(t *testing.T) auth.Scope   { return env.as(t, 2, "Santa") }
func (env testEnv) listElf(t *testing.T) auth.Scope { return env.as(t, 3, "ListElf") }
func (env testEnv) giftElf(t *testing.T) auth.Scope { return env.as(t, 4, "GiftElf") }
func (env testEnv) keeper(t *testing.T) auth.Scope  { return env.as(t, 5, "Keeper") }

func requireCode(t *testing.T, err error, kind engine.Kind, code string) *engine.Error {
	t.Helper()
	require.Error(t, err)
	var ee *engine.Error
	require.True(t, errors.As(err, &ee), "expected engine error, got %T: %v", err, err)
	require.Equal(t, kind, ee.Kind, ee.Message)
	require.Equal(t, code, ee.Code, ee.Message)
	return ee
}

func (env testEnv) gift(t *testing.T, id int64) domain.Gift {
	t.Helper()
	g, err := env.Engine.Repo.GetGift(env.Ctx, id)
	require.NoError(t, err)
	return g
}

func (env testEnv) unit(t *testing.T, id int64) domain.FleetUnit {
	t.Helper()
	u, err := env.Engine.Repo.GetFleetUnit(env.Ctx, id)
	require.NoError(t, err)
	return u
}

func (env testEnv) recipient(t *testing.T, id int64) domain.Recipient {
	t.Helper()
	rc, err := env.Engine.Repo.GetRecipient(env.Ctx, id)
	require.NoError(t, err)
	return rc
}

func (env testEnv) materialStock(t *testing.T) map[int64]int {
	t.Helper()
	items, err := env.Engine.Repo.ListMaterials(env.Ctx)
	require.NoError(t, err)
	out := map[int64]int{}
	for _, m := range items {
		out[m.ID] = m.Stock
	}
	return out
}

func (env testEnv) group(t *testing.T, unitID int64, items ...[2]int64) domain.DeliveryGroup {
	t.Helper()
	g, err := env.Engine.CreateGroup(env.Ctx, env.santa(t), engine.CreateGroupOptions{Name: "run", FleetUnitID: unitID})
	require.NoError(t, err)
	for _, it := range items {
		_, err := env.Engine.AddItem(env.Ctx, env.santa(t), engine.AddItemOptions{GroupID: g.ID, RecipientID: it[0], GiftID: it[1]})
		require.NoError(t, err)
	}
	return g
}

func TestManualProduceAddsStock(t *testing.T) {
	env := newTestEnv(t)
	g, err := env.Engine.Produce(env.Ctx, env.giftElf(t), engine.ProduceOptions{GiftID: gameConsole, Quantity: 5})
	require.NoError(t, err)
	require.Equal(t, 5, g.Stock)
	require.Equal(t, 5, env.gift(t, gameConsole).Stock)
	// materials are untouched by the manual path
	require.Equal(t, 1, env.materialStock(t)[dragonScale])

	_, err = env.Engine.Produce(env.Ctx, env.giftElf(t), engine.ProduceOptions{GiftID: gameConsole, Quantity: 0})
	requireCode(t, err, engine.KindValidation, "validation_failed")
	_, err = env.Engine.Produce(env.Ctx, env.giftElf(t), engine.ProduceOptions{GiftID: 999, Quantity: 1})
	requireCode(t, err, engine.KindNotFound, "not_found")
}

func TestRecipeProductionListsEveryShortage(t *testing.T) {
	env := newTestEnv(t)
	before := env.materialStock(t)

	_, err := env.Engine.ProduceViaRecipe(env.Ctx, env.giftElf(t), engine.ProduceOptions{GiftID: gameConsole, Quantity: 1})
	ee := requireCode(t, err, engine.KindValidation, "insufficient_materials")
	shortages, ok := ee.Details["shortages"].([]engine.MaterialShortage)
	require.True(t, ok)
	require.Len(t, shortages, 1)
	require.Equal(t, "Dragon Scale", shortages[0].MaterialName)
	require.Equal(t, 2, shortages[0].Required)
	require.Equal(t, 1, shortages[0].Available)
	require.Equal(t, before, env.materialStock(t))
	require.Equal(t, 0, env.gift(t, gameConsole).Stock)

	_, err = env.Engine.AdjustMaterial(env.Ctx, env.giftElf(t), engine.AdjustMaterialOptions{MaterialID: dragonScale, Delta: 1, Reason: "found in attic"})
	require.NoError(t, err)

	res, err := env.Engine.ProduceViaRecipe(env.Ctx, env.giftElf(t), engine.ProduceOptions{GiftID: gameConsole, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, 1, res.NewStock)
	require.Len(t, res.Usage, 3)
	after := env.materialStock(t)
	require.Equal(t, 0, after[dragonScale])
	require.Equal(t, before[starDust]-1, after[starDust])
	require.Equal(t, before[sunShard]-1, after[sunShard])

	jobs, err := env.Engine.ListProductionJobs(env.Ctx, env.giftElf(t), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, gameConsole, jobs[0].GiftID)
}

func TestRecipeProductionNeedsRecipe(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ProduceViaRecipe(env.Ctx, env.giftElf(t), engine.ProduceOptions{GiftID: bag, Quantity: 1})
	requireCode(t, err, engine.KindValidation, "recipe_missing")
}

func TestAdjustMaterialRefusesNegativeStock(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AdjustMaterial(env.Ctx, env.giftElf(t), engine.AdjustMaterialOptions{MaterialID: dragonScale, Delta: -5})
	requireCode(t, err, engine.KindValidation, "negative_stock")
	require.Equal(t, 1, env.materialStock(t)[dragonScale])

	m, err := env.Engine.AdjustMaterial(env.Ctx, env.giftElf(t), engine.AdjustMaterialOptions{MaterialID: dragonScale, Delta: -1})
	require.NoError(t, err)
	require.Equal(t, 0, m.Stock)
}

func TestFulfillDeliversEveryItem(t *testing.T) {
	env := newTestEnv(t)
	g := env.group(t, rudolph, [2]int64{alice, hat}, [2]int64{bruno, doll})

	res, err := env.Engine.Fulfill(env.Ctx, env.santa(t), g.ID)
	require.NoError(t, err)
	require.Equal(t, domain.GroupDone, res.Status)
	require.Equal(t, 2, res.DeliveredCount)
	require.Equal(t, rudolph, res.FleetUnitID)

	require.Equal(t, 2, env.gift(t, hat).Stock)
	require.Equal(t, 7, env.gift(t, doll).Stock)
	require.Equal(t, domain.DeliveryDelivered, env.recipient(t, alice).DeliveryStatus)
	require.Equal(t, domain.DeliveryDelivered, env.recipient(t, bruno).DeliveryStatus)

	u := env.unit(t, rudolph)
	require.Equal(t, 40, u.Stamina)
	require.Equal(t, 90, u.Magic)
	require.Equal(t, domain.UnitOnDelivery, u.Status)

	records, err := env.Engine.ListDeliveries(env.Ctx, env.santa(t), 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		require.NotNil(t, rec.GroupID)
		require.Equal(t, g.ID, *rec.GroupID)
	}

	got, err := env.Engine.GetGroup(env.Ctx, env.santa(t), g.ID)
	require.NoError(t, err)
	require.Equal(t, domain.GroupDone, got.Status)

	_, err = env.Engine.Fulfill(env.Ctx, env.santa(t), g.ID)
	requireCode(t, err, engine.KindConflict, "group_not_pending")
}

func TestFulfillShortageChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	g := env.group(t, dasher, [2]int64{alice, hat}, [2]int64{bruno, gameConsole})

	_, err := env.Engine.Fulfill(env.Ctx, env.santa(t), g.ID)
	ee := requireCode(t, err, engine.KindValidation, "insufficient_stock")
	shortages, ok := ee.Details["shortages"].([]engine.Shortage)
	require.True(t, ok)
	require.Len(t, shortages, 1)
	require.Equal(t, gameConsole, shortages[0].GiftID)
	require.Equal(t, 1, shortages[0].Shortfall)

	require.Equal(t, 3, env.gift(t, hat).Stock)
	require.Equal(t, domain.DeliveryPending, env.recipient(t, alice).DeliveryStatus)
	u := env.unit(t, dasher)
	require.Equal(t, 100, u.Stamina)
	require.Equal(t, 100, u.Magic)
	require.Equal(t, domain.UnitReady, u.Status)
	records, err := env.Engine.ListDeliveries(env.Ctx, env.santa(t), 10, 0)
	require.NoError(t, err)
	require.Empty(t, records)

	got, err := env.Engine.GetGroup(env.Ctx, env.santa(t), g.ID)
	require.NoError(t, err)
	require.Equal(t, domain.GroupFailed, got.Status)
	require.Contains(t, got.FailureReason, "insufficient stock")

	failed, err := env.Engine.ListEvents(env.Ctx, auth.System(), engine.EventQuery{Type: events.GroupFailed, Limit: 5})
	require.NoError(t, err)
	require.Len(t, failed, 1)

	// a failed group releases its recipients
	again := env.group(t, dasher, [2]int64{alice, hat})
	res, err := env.Engine.Fulfill(env.Ctx, env.santa(t), again.ID)
	require.NoError(t, err)
	require.Equal(t, 1, res.DeliveredCount)
}

func TestRecipientSitsInOnePendingGroup(t *testing.T) {
	env := newTestEnv(t)
	first := env.group(t, rudolph, [2]int64{alice, hat})
	second := env.group(t, dasher)

	_, err := env.Engine.AddItem(env.Ctx, env.santa(t), engine.AddItemOptions{GroupID: second.ID, RecipientID: alice, GiftID: hat})
	ee := requireCode(t, err, engine.KindConflict, "recipient_in_other_group")
	require.Equal(t, first.ID, ee.Details["group_id"])

	_, err = env.Engine.AddItem(env.Ctx, env.santa(t), engine.AddItemOptions{GroupID: first.ID, RecipientID: alice, GiftID: doll})
	requireCode(t, err, engine.KindConflict, "recipient_in_group")
}

func TestAddItemNeedsPendingGroup(t *testing.T) {
	env := newTestEnv(t)
	g := env.group(t, rudolph, [2]int64{alice, hat})
	_, err := env.Engine.Fulfill(env.Ctx, env.santa(t), g.ID)
	require.NoError(t, err)

	_, err = env.Engine.AddItem(env.Ctx, env.santa(t), engine.AddItemOptions{GroupID: g.ID, RecipientID: bruno, GiftID: doll})
	requireCode(t, err, engine.KindConflict, "group_not_pending")
}

func TestNoRedelivery(t *testing.T) {
	env := newTestEnv(t)
	first := env.group(t, rudolph, [2]int64{alice, hat})
	_, err := env.Engine.Fulfill(env.Ctx, env.santa(t), first.ID)
	require.NoError(t, err)

	second := env.group(t, dasher, [2]int64{alice, hat})
	_, err = env.Engine.Fulfill(env.Ctx, env.santa(t), second.ID)
	requireCode(t, err, engine.KindConflict, "recipient_already_delivered")
	require.Equal(t, 2, env.gift(t, hat).Stock)
	require.Equal(t, domain.UnitReady, env.unit(t, dasher).Status)
}

func TestEmptyGroupCannotBeFulfilled(t *testing.T) {
	env := newTestEnv(t)
	g := env.group(t, rudolph)
	_, err := env.Engine.Fulfill(env.Ctx, env.santa(t), g.ID)
	requireCode(t, err, engine.KindValidation, "group_empty")

	_, err = env.Engine.Fulfill(env.Ctx, env.santa(t), 999)
	requireCode(t, err, engine.KindNotFound, "not_found")
}

func TestCreateGroupNeedsRestedReadyUnit(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateGroup(env.Ctx, env.santa(t), engine.CreateGroupOptions{Name: "late run", FleetUnitID: comet})
	requireCode(t, err, engine.KindValidation, "fleet_unit_unavailable")

	_, err = env.Engine.CreateGroup(env.Ctx, env.santa(t), engine.CreateGroupOptions{Name: " ", FleetUnitID: rudolph})
	requireCode(t, err, engine.KindValidation, "validation_failed")
}

func TestLowResourcesForceResting(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.UpdateStatus(env.Ctx, env.keeper(t), engine.UpdateStatusOptions{
		UnitID:  dancer,
		Status:  domain.UnitReady,
		Stamina: 80,
		Magic:   20,
	})
	require.NoError(t, err)
	require.Equal(t, domain.UnitResting, res.Status)
	require.Equal(t, domain.UnitReady, res.RequestedStatus)
	require.True(t, res.Forced)
	require.Equal(t, domain.UnitResting, env.unit(t, dancer).Status)

	res, err = env.Engine.UpdateStatus(env.Ctx, env.keeper(t), engine.UpdateStatusOptions{
		UnitID:  comet,
		Status:  "ready",
		Stamina: 90,
		Magic:   90,
	})
	require.NoError(t, err)
	require.Equal(t, domain.UnitReady, res.Status)
	require.False(t, res.Forced)

	_, err = env.Engine.UpdateStatus(env.Ctx, env.keeper(t), engine.UpdateStatusOptions{UnitID: comet, Status: domain.UnitReady, Stamina: 120, Magic: 90})
	requireCode(t, err, engine.KindValidation, "validation_failed")
}

func TestHealthLogsLeaveResourcesAlone(t *testing.T) {
	env := newTestEnv(t)
	before := env.unit(t, rudolph)
	l, err := env.Engine.LogHealth(env.Ctx, env.keeper(t), rudolph, "nose glowing brightly")
	require.NoError(t, err)
	require.Equal(t, rudolph, l.UnitID)
	require.Equal(t, before, env.unit(t, rudolph))

	logs, err := env.Engine.ListHealthLogs(env.Ctx, env.keeper(t), rudolph)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestAvailableFleetFiltersByResources(t *testing.T) {
	env := newTestEnv(t)
	units, err := env.Engine.ListAvailableFleet(env.Ctx, env.santa(t), 50)
	require.NoError(t, err)
	var ids []int64
	for _, u := range units {
		ids = append(ids, u.ID)
	}
	require.Equal(t, []int64{rudolph, dasher}, ids)
}

func TestDeleteRecipientDropsOpenMemberships(t *testing.T) {
	env := newTestEnv(t)
	pending := env.group(t, rudolph, [2]int64{alice, hat})
	failed := env.group(t, dasher, [2]int64{bruno, gameConsole})
	_, err := env.Engine.Fulfill(env.Ctx, env.santa(t), failed.ID)
	requireCode(t, err, engine.KindValidation, "insufficient_stock")

	for _, id := range []int64{alice, bruno} {
		require.NoError(t, env.Engine.DeleteRecipient(env.Ctx, env.listElf(t), id))
		_, err := env.Engine.GetRecipient(env.Ctx, env.listElf(t), id)
		requireCode(t, err, engine.KindNotFound, "not_found")
		prefs, err := env.Engine.Repo.Preferences(env.Ctx, id)
		require.NoError(t, err)
		require.Empty(t, prefs)
	}
	for _, g := range []domain.DeliveryGroup{pending, failed} {
		items, err := env.Engine.Repo.GroupItems(env.Ctx, g.ID)
		require.NoError(t, err)
		require.Empty(t, items)
	}

	err = env.Engine.DeleteRecipient(env.Ctx, env.listElf(t), alice)
	requireCode(t, err, engine.KindNotFound, "not_found")
}

func TestDeleteDeliveredRecipientKeepsHistory(t *testing.T) {
	env := newTestEnv(t)
	g := env.group(t, rudolph, [2]int64{alice, hat})
	_, err := env.Engine.Fulfill(env.Ctx, env.santa(t), g.ID)
	require.NoError(t, err)

	err = env.Engine.DeleteRecipient(env.Ctx, env.listElf(t), alice)
	ee := requireCode(t, err, engine.KindConflict, "recipient_has_history")
	require.Equal(t, alice, ee.Details["recipient_id"])

	require.Equal(t, domain.DeliveryDelivered, env.recipient(t, alice).DeliveryStatus)
	records, err := env.Engine.ListDeliveries(env.Ctx, env.santa(t), 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, alice, records[0].RecipientID)
	n, err := env.Engine.Repo.CountDeliveryRecordsTx(env.Ctx, nil, g.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	items, err := env.Engine.Repo.GroupItems(env.Ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestDeleteGroupByStatus(t *testing.T) {
	env := newTestEnv(t)
	done := env.group(t, rudolph, [2]int64{alice, hat})
	_, err := env.Engine.Fulfill(env.Ctx, env.santa(t), done.ID)
	require.NoError(t, err)
	err = env.Engine.DeleteGroup(env.Ctx, env.santa(t), done.ID)
	requireCode(t, err, engine.KindConflict, "group_immutable")

	failed := env.group(t, dasher, [2]int64{bruno, gameConsole})
	_, err = env.Engine.Fulfill(env.Ctx, env.santa(t), failed.ID)
	require.Error(t, err)
	require.NoError(t, env.Engine.DeleteGroup(env.Ctx, env.santa(t), failed.ID))

	pending := env.group(t, dasher, [2]int64{bruno, doll})
	require.NoError(t, env.Engine.DeleteGroup(env.Ctx, env.santa(t), pending.ID))
	_, err = env.Engine.GetGroup(env.Ctx, env.santa(t), pending.ID)
	requireCode(t, err, engine.KindNotFound, "not_found")

	all, err := env.Engine.ListGroups(env.Ctx, env.santa(t), "ALL")
	require.NoError(t, err)
	require.Len(t, all, 1)
	_, err = env.Engine.ListGroups(env.Ctx, env.santa(t), "LOST")
	requireCode(t, err, engine.KindValidation, "validation_failed")
}

func TestListGroupsDefaultsToPending(t *testing.T) {
	env := newTestEnv(t)
	done := env.group(t, rudolph, [2]int64{alice, hat})
	_, err := env.Engine.Fulfill(env.Ctx, env.santa(t), done.ID)
	require.NoError(t, err)
	pending := env.group(t, dasher)

	items, err := env.Engine.ListGroups(env.Ctx, env.santa(t), "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, pending.ID, items[0].ID)
}

func TestCreateRecipientValidatesReferences(t *testing.T) {
	env := newTestEnv(t)
	scope := env.listElf(t)
	base := engine.CreateRecipientOptions{Name: "Eve", Address: "1 Fjord Road", RegionID: 2}

	opts := base
	opts.Preferences = []engine.PreferenceInput{{GiftID: hat, Rank: 1}, {GiftID: doll, Rank: 1}}
	_, err := env.Engine.CreateRecipient(env.Ctx, scope, opts)
	requireCode(t, err, engine.KindValidation, "duplicate_rank")

	opts = base
	opts.Preferences = []engine.PreferenceInput{{GiftID: 999, Rank: 1}}
	_, err = env.Engine.CreateRecipient(env.Ctx, scope, opts)
	requireCode(t, err, engine.KindValidation, "unknown_gift")

	opts = base
	opts.RegionID = 99
	_, err = env.Engine.CreateRecipient(env.Ctx, scope, opts)
	requireCode(t, err, engine.KindValidation, "unknown_region")

	opts = base
	opts.Eligibility = "SAINTLY"
	_, err = env.Engine.CreateRecipient(env.Ctx, scope, opts)
	requireCode(t, err, engine.KindValidation, "unknown_code")

	rc, err := env.Engine.CreateRecipient(env.Ctx, scope, base)
	require.NoError(t, err)
	require.Equal(t, domain.DefaultEligibility, rc.Eligibility)
	require.Equal(t, domain.DefaultDeliveryStatus, rc.DeliveryStatus)

	p, err := env.Engine.AddPreference(env.Ctx, scope, rc.ID, engine.PreferenceInput{GiftID: hat, Rank: 1})
	require.NoError(t, err)
	_, err = env.Engine.AddPreference(env.Ctx, scope, rc.ID, engine.PreferenceInput{GiftID: doll, Rank: 1})
	requireCode(t, err, engine.KindConflict, "duplicate_rank")
	require.NoError(t, env.Engine.DeletePreference(env.Ctx, scope, rc.ID, p.ID))

	nice := domain.EligibilityNice
	updated, err := env.Engine.UpdateRecipient(env.Ctx, scope, engine.UpdateRecipientOptions{ID: rc.ID, Eligibility: &nice})
	require.NoError(t, err)
	require.Equal(t, domain.EligibilityNice, updated.Eligibility)
	require.Equal(t, "Eve", updated.Name)
}

func TestTargetsAndSuggestions(t *testing.T) {
	env := newTestEnv(t)
	targets, err := env.Engine.EligibleTargets(env.Ctx, env.santa(t), 0)
	require.NoError(t, err)
	require.Len(t, targets, 2)

	_, err = env.Engine.Target(env.Ctx, env.santa(t), 3)
	requireCode(t, err, engine.KindNotFound, "not_found")

	suggestions, err := env.Engine.SuggestAssignments(env.Ctx, env.santa(t), 0)
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	require.Equal(t, alice, suggestions[0].RecipientID)
	require.Equal(t, hat, suggestions[0].GiftID)
	// the console is out of stock, so Bruno falls through to his second wish
	require.Equal(t, bruno, suggestions[1].RecipientID)
	require.Equal(t, doll, suggestions[1].GiftID)

	// suggestions reserve nothing
	require.Equal(t, 3, env.gift(t, hat).Stock)
}

func TestCodesAreCanonicalAndGuarded(t *testing.T) {
	env := newTestEnv(t)
	scope := env.listElf(t)
	c, err := env.Engine.CreateCode(env.Ctx, scope, repo.EligibilityCodes, engine.CodeOptions{Code: " watch ", Description: "Keep an eye on"})
	require.NoError(t, err)
	require.Equal(t, "WATCH", c.Code)

	_, err = env.Engine.CreateCode(env.Ctx, scope, repo.EligibilityCodes, engine.CodeOptions{Code: "Watch", Description: "again"})
	requireCode(t, err, engine.KindConflict, "code_exists")

	err = env.Engine.DeleteCode(env.Ctx, scope, repo.EligibilityCodes, "nice")
	requireCode(t, err, engine.KindConflict, "code_in_use")

	require.NoError(t, env.Engine.DeleteCode(env.Ctx, scope, repo.EligibilityCodes, "watch"))
	codes, err := env.Engine.ListCodes(env.Ctx, scope, repo.EligibilityCodes)
	require.NoError(t, err)
	require.Len(t, codes, 3)
}

func TestRulesCRUD(t *testing.T) {
	env := newTestEnv(t)
	scope := env.listElf(t)
	title, desc := "Chores", "Helps with chores at least weekly"
	rl, err := env.Engine.CreateRule(env.Ctx, scope, engine.RuleOptions{Title: &title, Description: &desc})
	require.NoError(t, err)
	require.NotNil(t, rl.CreatedBy)
	require.Equal(t, int64(3), *rl.CreatedBy)

	empty := " "
	_, err = env.Engine.CreateRule(env.Ctx, scope, engine.RuleOptions{Title: &empty, Description: &desc})
	requireCode(t, err, engine.KindValidation, "validation_failed")

	newTitle := "Household chores"
	rl, err = env.Engine.UpdateRule(env.Ctx, scope, rl.ID, engine.RuleOptions{Title: &newTitle})
	require.NoError(t, err)
	require.Equal(t, newTitle, rl.Title)
	require.Equal(t, desc, rl.Description)

	rules, err := env.Engine.ListRules(env.Ctx, scope)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	require.NoError(t, env.Engine.DeleteRule(env.Ctx, scope, rl.ID))
	err = env.Engine.DeleteRule(env.Ctx, scope, rl.ID)
	requireCode(t, err, engine.KindNotFound, "not_found")
}

func TestScopeRequiresPermission(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateGroup(env.Ctx, env.keeper(t), engine.CreateGroupOptions{Name: "keeper run", FleetUnitID: rudolph})
	var fe auth.ForbiddenError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, domain.PermGroupsWrite, fe.Permission)
	require.Equal(t, engine.KindForbidden, engine.KindOf(err))

	_, err = env.Engine.Produce(env.Ctx, env.santa(t), engine.ProduceOptions{GiftID: hat, Quantity: 1})
	require.Equal(t, engine.KindForbidden, engine.KindOf(err))
	require.Equal(t, 3, env.gift(t, hat).Stock)
}

func TestLoginChecksPassword(t *testing.T) {
	env := newTestEnv(t)
	s, err := env.Engine.Login(env.Ctx, "santa", "hohoho")
	require.NoError(t, err)
	require.Equal(t, int64(2), s.ID)
	require.Equal(t, "Santa", s.Role)

	_, err = env.Engine.Login(env.Ctx, "santa", "ho")
	requireCode(t, err, engine.KindUnauthorized, "invalid_credentials")
	_, err = env.Engine.Login(env.Ctx, "grinch", "hohoho")
	requireCode(t, err, engine.KindUnauthorized, "invalid_credentials")
}

func TestCreateStaffRejectsUnknownRoleAndDuplicates(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateStaff(env.Ctx, auth.System(), engine.CreateStaffOptions{Username: "jack", Password: "frosty1", Name: "Jack", Role: "Grinch"})
	requireCode(t, err, engine.KindValidation, "unknown_role")
	_, err = env.Engine.CreateStaff(env.Ctx, auth.System(), engine.CreateStaffOptions{Username: "santa", Password: "frosty1", Name: "Other", Role: "Santa"})
	requireCode(t, err, engine.KindConflict, "username_taken")
}

func TestSeedIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	rep, err := app.Seed(env.Ctx, env.Engine)
	require.NoError(t, err)
	require.True(t, rep.Skipped)
	gifts, err := env.Engine.ListGifts(env.Ctx, env.santa(t))
	require.NoError(t, err)
	require.Len(t, gifts, 5)
}

func TestGiftDemandCountsEligiblePreferences(t *testing.T) {
	env := newTestEnv(t)
	scope := env.listElf(t)
	_, err := env.Engine.CreateRecipient(env.Ctx, scope, engine.CreateRecipientOptions{
		Name:        "Eve",
		Address:     "1 Fjord Road",
		RegionID:    2,
		Eligibility: "NICE",
		Preferences: []engine.PreferenceInput{{GiftID: hat, Rank: 2}},
	})
	require.NoError(t, err)

	demand, err := env.Engine.GiftDemand(env.Ctx, scope)
	require.NoError(t, err)
	require.Len(t, demand, 5)
	require.Equal(t, hat, demand[0].GiftID)
	require.Equal(t, 2, demand[0].Total)
	require.Equal(t, 1, demand[0].Rank1)
	require.Equal(t, 1, demand[0].Rank2)
	// Chen is naughty, so Bag only counts Bruno's third choice
	for _, d := range demand {
		if d.GiftID == bag {
			require.Equal(t, 1, d.Total)
			require.Equal(t, 1, d.Rank3)
		}
	}

	regions, err := env.Engine.ListRegions(env.Ctx, scope)
	require.NoError(t, err)
	require.Len(t, regions, 4)

	_, err = env.Engine.GiftDemand(env.Ctx, env.keeper(t))
	require.Error(t, err)
}

func TestFulfillRechecksFleetUnit(t *testing.T) {
	env := newTestEnv(t)
	g := env.group(t, rudolph, [2]int64{alice, hat})
	res, err := env.Engine.UpdateStatus(env.Ctx, env.keeper(t), engine.UpdateStatusOptions{
		UnitID:  rudolph,
		Status:  domain.UnitReady,
		Stamina: 50,
		Magic:   5,
	})
	require.NoError(t, err)
	require.Equal(t, domain.UnitResting, res.Status)

	_, err = env.Engine.Fulfill(env.Ctx, env.santa(t), g.ID)
	ee := requireCode(t, err, engine.KindValidation, "fleet_unit_unavailable")
	require.Equal(t, rudolph, ee.Details["fleet_unit_id"])

	got, err := env.Engine.GetGroup(env.Ctx, env.santa(t), g.ID)
	require.NoError(t, err)
	require.Equal(t, domain.GroupFailed, got.Status)
	require.NotEmpty(t, got.FailureReason)
	require.Equal(t, 3, env.gift(t, hat).Stock)
	require.NotEqual(t, domain.DeliveryDelivered, env.recipient(t, alice).DeliveryStatus)
	u := env.unit(t, rudolph)
	require.Equal(t, domain.UnitResting, u.Status)
	require.Equal(t, 50, u.Stamina)
	require.Equal(t, 5, u.Magic)
}

func TestActiveMembershipIndexRejectsSecondGroup(t *testing.T) {
	env := newTestEnv(t)
	env.group(t, rudolph, [2]int64{alice, hat})
	other := env.group(t, dasher)

	tx, err := env.Engine.Repo.Begin(env.Ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = env.Engine.Repo.InsertGroupItemTx(env.Ctx, tx, domain.GroupItem{GroupID: other.ID, RecipientID: alice, GiftID: hat})
	require.ErrorIs(t, err, repo.ErrConflict)
}

func TestQuantityBounds(t *testing.T) {
	env := newTestEnv(t)
	const huge = int(^uint(0) >> 1)

	_, err := env.Engine.ProduceViaRecipe(env.Ctx, env.giftElf(t), engine.ProduceOptions{GiftID: gameConsole, Quantity: huge})
	ee := requireCode(t, err, engine.KindValidation, "validation_failed")
	require.Equal(t, "lte=1000000", ee.Details["fields"].(map[string]string)["quantity"])

	_, err = env.Engine.Produce(env.Ctx, env.giftElf(t), engine.ProduceOptions{GiftID: hat, Quantity: huge})
	requireCode(t, err, engine.KindValidation, "validation_failed")
	require.Equal(t, 3, env.gift(t, hat).Stock)

	_, err = env.Engine.AdjustMaterial(env.Ctx, env.giftElf(t), engine.AdjustMaterialOptions{MaterialID: dragonScale, Delta: huge})
	requireCode(t, err, engine.KindValidation, "validation_failed")

	// at the cap every recipe line is still reported
	_, err = env.Engine.ProduceViaRecipe(env.Ctx, env.giftElf(t), engine.ProduceOptions{GiftID: gameConsole, Quantity: 1_000_000})
	ee = requireCode(t, err, engine.KindValidation, "insufficient_materials")
	require.Len(t, ee.Details["shortages"].([]engine.MaterialShortage), 3)
}
