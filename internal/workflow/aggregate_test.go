package workflow

import (
	"testing"
	"time"
)

func approver(user int64, stage int, decision Decision) Participant {
	return Participant{ApprovalID: 1, UserID: user, Stage: stage, Role: RoleApprover, Decision: decision}
}

func observer(user int64, stage int, decision Decision) Participant {
	return Participant{ApprovalID: 1, UserID: user, Stage: stage, Role: RoleObserver, Decision: decision}
}

func stageByNumber(t *testing.T, stages []Stage, number int) Stage {
	t.Helper()
	for _, stage := range stages {
		if stage.Number == number {
			return stage
		}
	}
	t.Fatalf("stage %d not found in %+v", number, stages)
	return Stage{}
}

func TestAggregateScenarios(t *testing.T) {
	inReview := Approval{ID: 1, Status: StatusReview, CurrentStage: 1}
	cases := []struct {
		name         string
		approval     Approval
		participants []Participant
		stage        int
		want         StageStatus
	}{
		{
			name:         "one approver still pending",
			approval:     inReview,
			participants: []Participant{approver(10, 1, DecisionNone), approver(11, 1, DecisionApprove)},
			stage:        1,
			want:         StagePending,
		},
		{
			name:         "one reject wins",
			approval:     inReview,
			participants: []Participant{approver(10, 1, DecisionReject), approver(11, 1, DecisionApprove)},
			stage:        1,
			want:         StageRejected,
		},
		{
			name:         "all approved",
			approval:     inReview,
			participants: []Participant{approver(10, 1, DecisionApprove), approver(11, 1, DecisionApprove)},
			stage:        1,
			want:         StageApproved,
		},
		{
			name:         "terminal approved promotes undecided stage",
			approval:     Approval{ID: 1, Status: StatusApproved, CurrentStage: 2},
			participants: []Participant{approver(10, 1, DecisionApprove), approver(12, 2, DecisionNone)},
			stage:        2,
			want:         StageApproved,
		},
		{
			name:         "future stage locked despite pre-recorded approval",
			approval:     inReview,
			participants: []Participant{approver(10, 1, DecisionNone), approver(12, 2, DecisionApprove)},
			stage:        2,
			want:         StageLocked,
		},
		{
			name:         "terminal returned demotes undecided stage",
			approval:     Approval{ID: 1, Status: StatusReturned, CurrentStage: 1},
			participants: []Participant{approver(10, 1, DecisionReject), approver(12, 2, DecisionNone)},
			stage:        2,
			want:         StageRejected,
		},
		{
			name:         "earlier stage keeps raw status while in review",
			approval:     Approval{ID: 1, Status: StatusReview, CurrentStage: 2},
			participants: []Participant{approver(10, 1, DecisionApprove), approver(12, 2, DecisionNone)},
			stage:        1,
			want:         StageApproved,
		},
		{
			name:         "draft leaves raw status",
			approval:     Approval{ID: 1, Status: StatusDraft},
			participants: []Participant{approver(10, 3, DecisionNone)},
			stage:        3,
			want:         StagePending,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stages := Aggregate(tc.approval, tc.participants)
			if got := stageByNumber(t, stages, tc.stage).Status; got != tc.want {
				t.Fatalf("stage %d status = %q, want %q", tc.stage, got, tc.want)
			}
		})
	}
}

func TestAggregateOrdersStagesAndSplitsRoles(t *testing.T) {
	participants := []Participant{
		approver(20, 3, DecisionNone),
		observer(21, 1, DecisionNone),
		approver(22, 1, DecisionNone),
		approver(23, 2, DecisionNone),
		observer(24, 3, DecisionNone),
	}
	stages := Aggregate(Approval{Status: StatusDraft}, participants)
	if len(stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(stages))
	}
	for i, want := range []int{1, 2, 3} {
		if stages[i].Number != want {
			t.Fatalf("stages[%d].Number = %d, want %d", i, stages[i].Number, want)
		}
	}
	if len(stages[0].Approvers) != 1 || stages[0].Approvers[0].UserID != 22 {
		t.Fatalf("unexpected stage 1 approvers: %+v", stages[0].Approvers)
	}
	if len(stages[0].Observers) != 1 || stages[0].Observers[0].UserID != 21 {
		t.Fatalf("unexpected stage 1 observers: %+v", stages[0].Observers)
	}
	if len(stages[2].Approvers) != 1 || len(stages[2].Observers) != 1 {
		t.Fatalf("unexpected stage 3 roles: %+v", stages[2])
	}
}

func TestAggregateStageMetadataFirstWins(t *testing.T) {
	participants := []Participant{
		{UserID: 1, Stage: 1, Role: RoleApprover},
		{UserID: 2, Stage: 1, Role: RoleApprover, StageName: "Legal", StageMessage: "Check the contract"},
		{UserID: 3, Stage: 1, Role: RoleObserver, StageName: "Finance", StageMessage: "Ignored"},
	}
	stage := Aggregate(Approval{Status: StatusDraft}, participants)[0]
	if stage.Name != "Legal" {
		t.Fatalf("Name = %q, want Legal", stage.Name)
	}
	if stage.Message != "Check the contract" {
		t.Fatalf("Message = %q, want first non-empty message", stage.Message)
	}
}

func TestAggregateDecidedAtIsLatestApproverDecision(t *testing.T) {
	early := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	late := early.Add(2 * time.Hour)
	observerAt := late.Add(time.Hour)

	participants := []Participant{
		{UserID: 1, Stage: 1, Role: RoleApprover, Decision: DecisionApprove, DecidedAt: &late},
		{UserID: 2, Stage: 1, Role: RoleApprover, Decision: DecisionApprove, DecidedAt: &early},
		{UserID: 3, Stage: 1, Role: RoleObserver, DecidedAt: &observerAt},
		{UserID: 4, Stage: 2, Role: RoleApprover},
	}
	stages := Aggregate(Approval{Status: StatusReview, CurrentStage: 2}, participants)
	if stages[0].DecidedAt == nil || !stages[0].DecidedAt.Equal(late) {
		t.Fatalf("stage 1 DecidedAt = %v, want %v", stages[0].DecidedAt, late)
	}
	if stages[1].DecidedAt != nil {
		t.Fatalf("stage 2 DecidedAt = %v, want nil", stages[1].DecidedAt)
	}
}

func TestAggregateFlagsMalformedStages(t *testing.T) {
	participants := []Participant{
		{UserID: 1, Stage: 0, Role: RoleApprover, Decision: DecisionApprove},
		{UserID: 2, Stage: 2, Role: Role("editor")},
		approver(3, 3, DecisionNone),
	}
	stages := Aggregate(Approval{Status: StatusReview, CurrentStage: 3}, participants)
	if len(stages) != 3 {
		t.Fatalf("expected 3 stages, got %d", len(stages))
	}
	for _, number := range []int{0, 2} {
		stage := stageByNumber(t, stages, number)
		if stage.Anomaly == nil {
			t.Fatalf("stage %d: expected anomaly", number)
		}
		if stage.Status != StagePending {
			t.Fatalf("stage %d status = %q, want pending", number, stage.Status)
		}
	}
	if stageByNumber(t, stages, 3).Anomaly != nil {
		t.Fatal("stage 3 should not be flagged")
	}
}

func TestAggregateNilParticipants(t *testing.T) {
	stages := Aggregate(Approval{Status: StatusReview, CurrentStage: 1}, nil)
	if stages == nil || len(stages) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", stages)
	}
}

var allDecisions = []Decision{DecisionNone, DecisionApprove, DecisionReject}

func TestZeroApproverStagesNeverApprove(t *testing.T) {
	for _, a := range allDecisions {
		for _, b := range allDecisions {
			participants := []Participant{observer(1, 1, a), observer(2, 1, b)}
			stage := Aggregate(Approval{Status: StatusDraft}, participants)[0]
			if stage.Status != StagePending {
				t.Fatalf("observers %q/%q: status = %q, want pending", a, b, stage.Status)
			}
		}
	}
}

func TestRejectDominates(t *testing.T) {
	for _, a := range allDecisions {
		for _, b := range allDecisions {
			orders := [][]Participant{
				{approver(1, 1, DecisionReject), approver(2, 1, a), approver(3, 1, b)},
				{approver(2, 1, a), approver(1, 1, DecisionReject), approver(3, 1, b)},
				{approver(2, 1, a), approver(3, 1, b), approver(1, 1, DecisionReject)},
			}
			for _, participants := range orders {
				stage := Aggregate(Approval{Status: StatusReview, CurrentStage: 1}, participants)[0]
				if stage.Status != StageRejected {
					t.Fatalf("participants %+v: status = %q, want rejected", participants, stage.Status)
				}
			}
		}
	}
}

func TestFutureStagesLockedInReview(t *testing.T) {
	for current := 1; current <= 3; current++ {
		participants := []Participant{
			approver(1, 1, DecisionApprove),
			approver(2, 2, DecisionApprove),
			approver(3, 3, DecisionApprove),
			approver(4, 4, DecisionApprove),
		}
		approval := Approval{Status: StatusReview, CurrentStage: current}
		for _, stage := range Aggregate(approval, participants) {
			if stage.Number > current && stage.Status != StageLocked {
				t.Fatalf("current=%d stage %d status = %q, want locked", current, stage.Number, stage.Status)
			}
			if stage.Number <= current && stage.Status == StageLocked {
				t.Fatalf("current=%d stage %d must not be locked", current, stage.Number)
			}
		}
	}
}

func TestTerminalApprovalsHaveNoPendingStages(t *testing.T) {
	for _, status := range []ApprovalStatus{StatusApproved, StatusReturned} {
		for _, a := range allDecisions {
			for _, b := range allDecisions {
				participants := []Participant{
					approver(1, 1, a),
					approver(2, 1, b),
					observer(3, 2, a),
					approver(4, 3, b),
					{UserID: 5, Stage: 4, Role: Role("unknown")},
				}
				for _, stage := range Aggregate(Approval{Status: status, CurrentStage: 1}, participants) {
					if stage.Status == StagePending {
						t.Fatalf("%s approval (%q/%q): stage %d is pending", status, a, b, stage.Number)
					}
				}
			}
		}
	}
}

func TestAggregateDoesNotShareParticipantSlices(t *testing.T) {
	participants := []Participant{approver(1, 1, DecisionNone)}
	approval := Approval{Status: StatusReview, CurrentStage: 1}
	first := Aggregate(approval, participants)
	first[0].Approvers[0].Decision = DecisionApprove

	second := Aggregate(approval, participants)
	if second[0].Status != StagePending {
		t.Fatalf("second aggregation status = %q, want pending", second[0].Status)
	}
	if participants[0].Decision != DecisionNone {
		t.Fatal("aggregation must not alias the input records")
	}
}
