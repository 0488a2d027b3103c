package workflow

import (
	"sort"
	"time"
)

// Aggregate groups participants into stages ordered by stage number and
// derives each stage's status. The approval's status is authoritative: stages
// after the current one are locked while in review, and terminal approvals
// never show a pending stage.
//
// Aggregate never fails. Malformed stages are reported through Stage.Anomaly.
func Aggregate(approval Approval, participants []Participant) []Stage {
	stages := groupStages(participants)
	for i := range stages {
		stages[i].Status = overrideStatus(approval, stages[i].Number, stages[i].Status)
	}
	return stages
}

// groupStages builds the stages with their raw status, before the approval's
// status is taken into account.
func groupStages(participants []Participant) []Stage {
	index := make(map[int]int)
	stages := make([]Stage, 0)
	for _, p := range participants {
		pos, ok := index[p.Stage]
		if !ok {
			pos = len(stages)
			index[p.Stage] = pos
			stages = append(stages, Stage{
				Number:    p.Stage,
				Approvers: []Participant{},
				Observers: []Participant{},
			})
		}
		stage := &stages[pos]
		if stage.Name == "" && p.StageName != "" {
			stage.Name = p.StageName
		}
		if stage.Message == "" && p.StageMessage != "" {
			stage.Message = p.StageMessage
		}
		switch p.Role {
		case RoleApprover:
			stage.Approvers = append(stage.Approvers, p)
		case RoleObserver:
			stage.Observers = append(stage.Observers, p)
		}
	}

	sort.SliceStable(stages, func(i, j int) bool {
		return stages[i].Number < stages[j].Number
	})

	for i := range stages {
		stage := &stages[i]
		stage.Status = rawStatus(stage.Approvers)
		stage.DecidedAt = latestDecision(stage.Approvers)
		switch {
		case stage.Number <= 0:
			stage.Anomaly = &InconsistentStateError{Stage: stage.Number, Reason: "non-positive stage number"}
			stage.Status = StagePending
		case len(stage.Approvers) == 0 && len(stage.Observers) == 0:
			stage.Anomaly = &InconsistentStateError{Stage: stage.Number, Reason: "no approvers or observers"}
			stage.Status = StagePending
		}
	}
	return stages
}

func rawStatus(approvers []Participant) StageStatus {
	if len(approvers) == 0 {
		return StagePending
	}
	decided := 0
	for _, approver := range approvers {
		if approver.Decision == DecisionReject {
			return StageRejected
		}
		if approver.Decision != DecisionNone {
			decided++
		}
	}
	if decided == len(approvers) {
		return StageApproved
	}
	return StagePending
}

func latestDecision(approvers []Participant) *time.Time {
	var latest *time.Time
	for _, approver := range approvers {
		if approver.DecidedAt == nil {
			continue
		}
		if latest == nil || approver.DecidedAt.After(*latest) {
			at := *approver.DecidedAt
			latest = &at
		}
	}
	return latest
}

func overrideStatus(approval Approval, number int, raw StageStatus) StageStatus {
	switch {
	case approval.Status == StatusReview && number > approval.CurrentStage:
		return StageLocked
	case approval.Status == StatusApproved && raw == StagePending:
		return StageApproved
	case approval.Status == StatusReturned && raw == StagePending:
		return StageRejected
	default:
		return raw
	}
}
