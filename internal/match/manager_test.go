package match

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tavla-games/gammon-server/internal/engine"
	"github.com/tavla-games/gammon-server/internal/ledger"
	"github.com/tavla-games/gammon-server/pkg/gammondto"
)

type fakeSettler struct {
	calls []ledger.SettleMatchParams
	// fail rejects this many calls before succeeding.
	fail int
}

func (f *fakeSettler) SettleMatch(_ context.Context, p ledger.SettleMatchParams) (*ledger.Settlement, error) {
	f.calls = append(f.calls, p)
	if f.fail > 0 {
		f.fail--
		return nil, errors.New("ledger unavailable")
	}
	return &ledger.Settlement{MatchID: p.MatchID, Transferred: p.Amount}, nil
}

type fakeNotifier struct {
	events []gammondto.Event
}

func (f *fakeNotifier) Notify(_ context.Context, event gammondto.Event, _ any, _ gammondto.Target) {
	f.events = append(f.events, event)
}

type fakeArchive struct {
	saved []string
	stats []string
}

func (f *fakeArchive) SaveTerminal(_ context.Context, m *Match) error {
	f.saved = append(f.saved, m.ID)
	return nil
}

func (f *fakeArchive) RecordResult(_ context.Context, m *Match) error {
	f.stats = append(f.stats, m.ID)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeSettler, *fakeArchive) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	settler := &fakeSettler{}
	archive := &fakeArchive{}
	mgr := NewManager(ManagerOptions{
		Redis:        rdb,
		Settler:      settler,
		Archive:      archive,
		TurnDeadline: time.Minute,
	})
	return mgr, settler, archive
}

// seed writes a crafted match straight into the live store.
func seed(t *testing.T, mgr *Manager, m *Match) {
	t.Helper()
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal crafted match: %v", err)
	}
	if err := mgr.rdb.Set(context.Background(), liveKey(m.ID), raw, liveTTL).Err(); err != nil {
		t.Fatalf("seed match: %v", err)
	}
}

func inProgressMatch(state engine.GameState) *Match {
	now := time.Now().UTC()
	return &Match{
		ID:          "m-test",
		Mode:        ModeCurrency,
		Stake:       500,
		PlayerWhite: "alice",
		PlayerBlack: "bob",
		WhiteReady:  true,
		BlackReady:  true,
		Status:      StatusInProgress,
		State:       &state,
		CreatedAt:   now.Add(-time.Minute),
		UpdatedAt:   now,
	}
}

func TestLifecycleCreateJoinReady(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	m, err := mgr.Create(ctx, CreateParams{Mode: ModeCurrency, Stake: 100, PlayerWhite: "alice"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if m.Status != StatusWaiting {
		t.Fatalf("single-seat match status = %s, want waiting", m.Status)
	}

	if _, err := mgr.Join(ctx, m.ID, "alice"); !gammondto.IsKind(err, gammondto.KindValidation) {
		t.Fatalf("self-join error = %v, want validation", err)
	}
	m, err = mgr.Join(ctx, m.ID, "bob")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if m.Status != StatusReady || m.PlayerBlack != "bob" {
		t.Fatalf("after join: status=%s black=%s", m.Status, m.PlayerBlack)
	}
	if _, err := mgr.Join(ctx, m.ID, "carol"); !gammondto.IsKind(err, gammondto.KindConflict) {
		t.Fatalf("join on filled seat error = %v, want conflict", err)
	}

	if _, err := mgr.SetReady(ctx, m.ID, "carol"); !gammondto.IsKind(err, gammondto.KindForbidden) {
		t.Fatalf("outsider ready error = %v, want forbidden", err)
	}
	if m, err = mgr.SetReady(ctx, m.ID, "alice"); err != nil {
		t.Fatalf("SetReady alice: %v", err)
	}
	if m.Status != StatusReady {
		t.Fatalf("one ready should not start the game, status = %s", m.Status)
	}
	if m, err = mgr.SetReady(ctx, m.ID, "bob"); err != nil {
		t.Fatalf("SetReady bob: %v", err)
	}
	if m.Status != StatusInProgress || m.State == nil {
		t.Fatalf("both ready must start the game, status = %s", m.Status)
	}
	if n := len(m.State.Dice); n != 2 && n != 4 {
		t.Fatalf("opening roll has %d dice", n)
	}
	if m.TurnDeadline == nil || !m.TurnDeadline.After(time.Now().UTC()) {
		t.Fatalf("turn deadline not armed: %v", m.TurnDeadline)
	}

	got, err := mgr.ActiveForUser(ctx, "bob")
	if err != nil || got.ID != m.ID {
		t.Fatalf("ActiveForUser: %v %v", got, err)
	}
}

func TestRollDiceRejectedWhileDiceRemain(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	st := engine.NewGame(engine.White)
	st.Dice = []engine.Die{{Value: 3}, {Value: 5}}
	seed(t, mgr, inProgressMatch(st))

	if _, err := mgr.RollDice(ctx, "m-test", "alice"); !gammondto.IsKind(err, gammondto.KindValidation) {
		t.Fatalf("roll over live dice error = %v, want validation", err)
	}
	if _, err := mgr.RollDice(ctx, "m-test", "bob"); !gammondto.IsKind(err, gammondto.KindForbidden) {
		t.Fatalf("off-turn roll error = %v, want forbidden", err)
	}
}

func TestSubmitMovesIllegalBatchAborts(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	st := engine.NewGame(engine.White)
	st.Dice = []engine.Die{{Value: 3}, {Value: 5}}
	seed(t, mgr, inProgressMatch(st))

	// Legal first move, illegal second: nothing may stick.
	_, err := mgr.SubmitMoves(ctx, "m-test", "alice", []gammondto.MoveInput{
		{From: 0, To: 3},
		{From: 0, To: 1},
	})
	if !gammondto.IsKind(err, gammondto.KindValidation) {
		t.Fatalf("illegal batch error = %v, want validation", err)
	}

	m, err := mgr.Get(ctx, "m-test")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if m.State.Points[3].Count != 0 {
		t.Fatalf("aborted batch leaked a move onto point 3")
	}
	if m.State.UnusedDice() != 2 {
		t.Fatalf("aborted batch consumed dice, %d left", m.State.UnusedDice())
	}
}

func TestSubmitMovesCompletesAndSettles(t *testing.T) {
	mgr, settler, archive := newTestManager(t)
	ctx := context.Background()

	// White's last checker sits one pip from off; black has borne off some,
	// so the win is plain.
	var st engine.GameState
	st.Turn = engine.White
	st.Cube = engine.Cube{Value: 1, Owner: engine.CubeCenter}
	st.OffWhite = 14
	st.Points[23] = engine.Point{Count: 1, Owner: engine.White}
	st.OffBlack = 10
	st.Points[0] = engine.Point{Count: 5, Owner: engine.Black}
	st.Dice = []engine.Die{{Value: 1}, {Value: 2}}
	seed(t, mgr, inProgressMatch(st))

	m, err := mgr.SubmitMoves(ctx, "m-test", "alice", []gammondto.MoveInput{{From: 23, To: engine.OffIndex}})
	if err != nil {
		t.Fatalf("SubmitMoves: %v", err)
	}
	if m.Status != StatusCompleted || m.Winner != "alice" || m.WinType != engine.WinNormal {
		t.Fatalf("completion: status=%s winner=%s type=%s", m.Status, m.Winner, m.WinType)
	}
	if m.Payout != 500 {
		t.Fatalf("payout = %d, want stake at cube 1 and normal win", m.Payout)
	}

	if len(settler.calls) != 1 {
		t.Fatalf("settler called %d times", len(settler.calls))
	}
	call := settler.calls[0]
	if call.Winner != "alice" || call.Loser != "bob" || call.Amount != 500 || call.Forfeit {
		t.Fatalf("settle params: %+v", call)
	}
	if call.Balance != ledger.BalanceCurrency {
		t.Fatalf("currency match settled against %s", call.Balance)
	}
	if len(archive.saved) != 1 || len(archive.stats) != 1 {
		t.Fatalf("archive calls: saved=%d stats=%d", len(archive.saved), len(archive.stats))
	}

	// Terminal matches release the user pointers.
	if _, err := mgr.ActiveForUser(ctx, "alice"); !gammondto.IsKind(err, gammondto.KindNotFound) {
		t.Fatalf("pointer survived completion: %v", err)
	}
}

func TestCompletingBatchEmitsMoveAndCompletion(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	rec := &fakeNotifier{}
	mgr.notifier = rec
	ctx := context.Background()

	var st engine.GameState
	st.Turn = engine.White
	st.Cube = engine.Cube{Value: 1, Owner: engine.CubeCenter}
	st.OffWhite = 14
	st.Points[23] = engine.Point{Count: 1, Owner: engine.White}
	st.OffBlack = 10
	st.Points[0] = engine.Point{Count: 5, Owner: engine.Black}
	st.Dice = []engine.Die{{Value: 1}, {Value: 2}}
	seed(t, mgr, inProgressMatch(st))

	if _, err := mgr.SubmitMoves(ctx, "m-test", "alice", []gammondto.MoveInput{{From: 23, To: engine.OffIndex}}); err != nil {
		t.Fatalf("SubmitMoves: %v", err)
	}

	// Every accepted batch pushes move_made; completion adds match_completed.
	want := []gammondto.Event{gammondto.EventMoveMade, gammondto.EventMatchCompleted}
	if len(rec.events) != len(want) {
		t.Fatalf("events = %v, want %v", rec.events, want)
	}
	for i, ev := range want {
		if rec.events[i] != ev {
			t.Fatalf("events = %v, want %v", rec.events, want)
		}
	}
}

func TestFailedSettlementRetriedBySweep(t *testing.T) {
	mgr, settler, archive := newTestManager(t)
	ctx := context.Background()

	var st engine.GameState
	st.Turn = engine.White
	st.Cube = engine.Cube{Value: 1, Owner: engine.CubeCenter}
	st.OffWhite = 14
	st.Points[23] = engine.Point{Count: 1, Owner: engine.White}
	st.OffBlack = 10
	st.Points[0] = engine.Point{Count: 5, Owner: engine.Black}
	st.Dice = []engine.Die{{Value: 1}, {Value: 2}}
	seed(t, mgr, inProgressMatch(st))

	settler.fail = 1
	m, err := mgr.SubmitMoves(ctx, "m-test", "alice", []gammondto.MoveInput{{From: 23, To: engine.OffIndex}})
	if err == nil {
		t.Fatal("settlement failure not surfaced")
	}
	if m == nil || m.Status != StatusCompleted {
		t.Fatalf("match must stay terminal despite failed settlement: %+v", m)
	}
	if len(archive.saved) != 0 {
		t.Fatalf("archived before settlement landed: %v", archive.saved)
	}
	if n, _ := mgr.rdb.ZCard(ctx, settleRetryKey).Result(); n != 1 {
		t.Fatalf("retry index holds %d entries, want 1", n)
	}

	settled, err := mgr.SweepSettlements(ctx)
	if err != nil {
		t.Fatalf("SweepSettlements: %v", err)
	}
	if settled != 1 {
		t.Fatalf("settled = %d, want 1", settled)
	}
	if len(settler.calls) != 2 {
		t.Fatalf("settler called %d times, want the retry", len(settler.calls))
	}
	call := settler.calls[1]
	if call.Winner != "alice" || call.Loser != "bob" || call.Amount != 500 || call.Forfeit {
		t.Fatalf("retry settle params: %+v", call)
	}
	if len(archive.saved) != 1 || len(archive.stats) != 1 {
		t.Fatalf("archive calls after retry: saved=%d stats=%d", len(archive.saved), len(archive.stats))
	}
	if n, _ := mgr.rdb.ZCard(ctx, settleRetryKey).Result(); n != 0 {
		t.Fatalf("retry index still holds %d entries", n)
	}
}

func TestGammonDoublesPayout(t *testing.T) {
	mgr, settler, _ := newTestManager(t)
	ctx := context.Background()

	var st engine.GameState
	st.Turn = engine.White
	st.Cube = engine.Cube{Value: 1, Owner: engine.CubeCenter}
	st.OffWhite = 14
	st.Points[23] = engine.Point{Count: 1, Owner: engine.White}
	// Black bore off nothing but is out of white's home and off the bar.
	st.Points[10] = engine.Point{Count: 15, Owner: engine.Black}
	st.Dice = []engine.Die{{Value: 1}}
	seed(t, mgr, inProgressMatch(st))

	m, err := mgr.SubmitMoves(ctx, "m-test", "alice", []gammondto.MoveInput{{From: 23, To: engine.OffIndex}})
	if err != nil {
		t.Fatalf("SubmitMoves: %v", err)
	}
	if m.WinType != engine.WinGammon || m.Payout != 1000 {
		t.Fatalf("gammon payout: type=%s payout=%d", m.WinType, m.Payout)
	}
	if settler.calls[0].Amount != 1000 {
		t.Fatalf("settled amount = %d", settler.calls[0].Amount)
	}
}

func TestForfeitAwardsOpponent(t *testing.T) {
	mgr, settler, _ := newTestManager(t)
	ctx := context.Background()

	st := engine.NewGame(engine.White)
	seed(t, mgr, inProgressMatch(st))

	m, err := mgr.Forfeit(ctx, "m-test", "alice")
	if err != nil {
		t.Fatalf("Forfeit: %v", err)
	}
	if m.Status != StatusCompleted || m.Winner != "bob" || m.ForfeitedBy != "alice" {
		t.Fatalf("forfeit outcome: %+v", m)
	}
	if m.Payout != 500 || m.WinType != engine.WinNormal {
		t.Fatalf("forfeit settles plain stake, got payout=%d type=%s", m.Payout, m.WinType)
	}
	if len(settler.calls) != 1 || !settler.calls[0].Forfeit {
		t.Fatalf("settler calls: %+v", settler.calls)
	}

	if _, err := mgr.Forfeit(ctx, "m-test", "bob"); !gammondto.IsKind(err, gammondto.KindValidation) {
		t.Fatalf("forfeit of finished match error = %v, want validation", err)
	}
}

func TestSweepDeadlinesForfeitsTurnOwner(t *testing.T) {
	mgr, settler, _ := newTestManager(t)
	ctx := context.Background()

	st := engine.NewGame(engine.Black)
	m := inProgressMatch(st)
	past := time.Now().UTC().Add(-time.Second)
	m.TurnDeadline = &past
	seed(t, mgr, m)
	if err := mgr.rdb.ZAdd(ctx, deadlineKey, redis.Z{Score: float64(past.Unix()), Member: m.ID}).Err(); err != nil {
		t.Fatalf("arm deadline: %v", err)
	}

	closed, err := mgr.SweepDeadlines(ctx)
	if err != nil {
		t.Fatalf("SweepDeadlines: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}

	got, err := mgr.Get(ctx, m.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCompleted || got.ForfeitedBy != "bob" || got.Winner != "alice" {
		t.Fatalf("sweep outcome: status=%s forfeited=%s winner=%s", got.Status, got.ForfeitedBy, got.Winner)
	}
	if len(settler.calls) != 1 || !settler.calls[0].Forfeit {
		t.Fatalf("settler calls: %+v", settler.calls)
	}

	// Closed matches leave the deadline index.
	if n, _ := mgr.rdb.ZCard(ctx, deadlineKey).Result(); n != 0 {
		t.Fatalf("deadline index still holds %d entries", n)
	}
}

func TestAbandonNeverSettles(t *testing.T) {
	mgr, settler, archive := newTestManager(t)
	ctx := context.Background()

	m, err := mgr.Create(ctx, CreateParams{Mode: ModeClub, Stake: 50, PlayerWhite: "alice", PlayerBlack: "bob", ClubScope: "club-1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	m, err = mgr.Abandon(ctx, m.ID)
	if err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if m.Status != StatusAbandoned {
		t.Fatalf("status = %s", m.Status)
	}
	if len(settler.calls) != 0 {
		t.Fatalf("abandon moved stakes: %+v", settler.calls)
	}
	if len(archive.saved) != 1 {
		t.Fatalf("abandoned match not archived")
	}
}
