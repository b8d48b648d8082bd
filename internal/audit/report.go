package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/repository"
)

// Anomaly types reported by DetectAnomalies.
const (
	AnomalyCredentialStuffing = "credential_stuffing"
	AnomalyBruteForce         = "brute_force"
	AnomalyHighFailureRate    = "high_failure_rate"
)

// Anomaly is a suspicious pattern reconstructed from stored audit events.
type Anomaly struct {
	Type        string               `json:"type"`
	Subject     string               `json:"subject"`
	Count       int                  `json:"count"`
	Severity    domain.AuditSeverity `json:"severity"`
	Description string               `json:"description"`
	FirstSeen   time.Time            `json:"first_seen"`
	LastSeen    time.Time            `json:"last_seen"`
}

// SecurityReport aggregates audit activity over a reporting period.
type SecurityReport struct {
	From                  time.Time                     `json:"from"`
	To                    time.Time                     `json:"to"`
	TotalEvents           int                           `json:"total_events"`
	EventsByType          map[domain.AuditEventType]int `json:"events_by_type"`
	EventsBySeverity      map[domain.AuditSeverity]int  `json:"events_by_severity"`
	FailedLogins          int                           `json:"failed_logins"`
	LockedAccounts        int                           `json:"locked_accounts"`
	UniqueUsers           int                           `json:"unique_users"`
	UniqueIPs             int                           `json:"unique_ips"`
	TopUsers              []UserActivityCount           `json:"top_users"`
	UsersWithFailedLogins []string                      `json:"users_with_failed_logins"`
	TopFailureIPs         []IPFailureCount              `json:"top_failure_ips"`
	Anomalies             []Anomaly                     `json:"anomalies"`
	GeneratedAt           time.Time                     `json:"generated_at"`
}

// IPFailureCount pairs a source IP with its login-failure count.
type IPFailureCount struct {
	IPAddress string `json:"ip_address"`
	Failures  int    `json:"failures"`
}

// UserActivityCount pairs a user with their total event count in the period.
type UserActivityCount struct {
	UserID string `json:"user_id"`
	Events int    `json:"events"`
}

// ReportConfig tunes the anomaly heuristics used when replaying events.
type ReportConfig struct {
	// UserIPThreshold flags a user whose failures arrive from more distinct
	// IPs than this within the window.
	UserIPThreshold int
	// IPUserThreshold flags an IP that fails against more distinct users
	// than this within the window.
	IPUserThreshold int
	// IPFailureThreshold flags an IP whose raw failure count exceeds this.
	IPFailureThreshold int
	// TopIPs caps the TopFailureIPs list in reports.
	TopIPs int
	// TopUsers caps the TopUsers list in reports.
	TopUsers int
}

// DefaultReportConfig mirrors the live detector's thresholds so replayed
// anomaly detection agrees with what was flagged at login time.
func DefaultReportConfig() ReportConfig {
	return ReportConfig{
		UserIPThreshold:    5,
		IPUserThreshold:    10,
		IPFailureThreshold: 25,
		TopIPs:             10,
		TopUsers:           10,
	}
}

// GenerateSecurityReport builds an aggregate report over [from, to].
func (l *Logger) GenerateSecurityReport(ctx context.Context, from, to time.Time, cfg ReportConfig) (*SecurityReport, error) {
	events, err := l.store.Query(ctx, repository.AuditFilter{From: from, To: to, Limit: -1})
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	report := &SecurityReport{
		From:             from,
		To:               to,
		TotalEvents:      len(events),
		EventsByType:     make(map[domain.AuditEventType]int),
		EventsBySeverity: make(map[domain.AuditSeverity]int),
		GeneratedAt:      l.now().UTC(),
	}

	activityByUser := make(map[string]int)
	ips := make(map[string]struct{})
	failuresByIP := make(map[string]int)
	failedUsers := make(map[string]struct{})
	lockedUsers := make(map[string]struct{})

	for _, e := range events {
		report.EventsByType[e.EventType]++
		report.EventsBySeverity[e.Severity]++
		if e.UserID != "" {
			activityByUser[e.UserID]++
		}
		if e.IPAddress != "" {
			ips[e.IPAddress] = struct{}{}
		}
		switch e.EventType {
		case domain.AuditLoginFailure:
			report.FailedLogins++
			if e.IPAddress != "" {
				failuresByIP[e.IPAddress]++
			}
			if e.UserID != "" {
				failedUsers[e.UserID] = struct{}{}
			}
		case domain.AuditAccountLocked:
			lockedUsers[e.UserID] = struct{}{}
		}
	}
	report.UniqueUsers = len(activityByUser)
	report.UniqueIPs = len(ips)
	report.LockedAccounts = len(lockedUsers)
	report.TopUsers = topUserActivity(activityByUser, cfg.TopUsers)
	report.UsersWithFailedLogins = sortedKeys(failedUsers)
	report.TopFailureIPs = topFailureIPs(failuresByIP, cfg.TopIPs)
	report.Anomalies = detectAnomalies(events, cfg)

	return report, nil
}

// DetectAnomalies replays the stored login failures in [from, to] through the
// same heuristics the live detector applies, for after-the-fact review.
func (l *Logger) DetectAnomalies(ctx context.Context, from, to time.Time, cfg ReportConfig) ([]Anomaly, error) {
	events, err := l.store.Query(ctx, repository.AuditFilter{
		From:       from,
		To:         to,
		EventTypes: []domain.AuditEventType{domain.AuditLoginFailure},
		Limit:      -1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	return detectAnomalies(events, cfg), nil
}

type span struct {
	first time.Time
	last  time.Time
	count int
	peers map[string]struct{}
}

func (s *span) observe(ts time.Time, peer string) {
	if s.count == 0 || ts.Before(s.first) {
		s.first = ts
	}
	if ts.After(s.last) {
		s.last = ts
	}
	s.count++
	if peer != "" {
		s.peers[peer] = struct{}{}
	}
}

func detectAnomalies(events []*domain.AuditEvent, cfg ReportConfig) []Anomaly {
	byUser := make(map[string]*span)
	byIP := make(map[string]*span)

	for _, e := range events {
		if e.EventType != domain.AuditLoginFailure {
			continue
		}
		if e.UserID != "" {
			s, ok := byUser[e.UserID]
			if !ok {
				s = &span{peers: make(map[string]struct{})}
				byUser[e.UserID] = s
			}
			s.observe(e.Timestamp, e.IPAddress)
		}
		if e.IPAddress != "" {
			s, ok := byIP[e.IPAddress]
			if !ok {
				s = &span{peers: make(map[string]struct{})}
				byIP[e.IPAddress] = s
			}
			s.observe(e.Timestamp, e.UserID)
		}
	}

	anomalies := make([]Anomaly, 0)
	for userID, s := range byUser {
		if len(s.peers) > cfg.UserIPThreshold {
			anomalies = append(anomalies, Anomaly{
				Type:        AnomalyCredentialStuffing,
				Subject:     userID,
				Count:       s.count,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("login failures for one account from %d distinct IPs", len(s.peers)),
				FirstSeen:   s.first,
				LastSeen:    s.last,
			})
		}
	}
	for ip, s := range byIP {
		if len(s.peers) > cfg.IPUserThreshold {
			anomalies = append(anomalies, Anomaly{
				Type:        AnomalyBruteForce,
				Subject:     ip,
				Count:       s.count,
				Severity:    domain.SeverityCritical,
				Description: fmt.Sprintf("login failures against %d distinct accounts from one IP", len(s.peers)),
				FirstSeen:   s.first,
				LastSeen:    s.last,
			})
			continue
		}
		if cfg.IPFailureThreshold > 0 && s.count > cfg.IPFailureThreshold {
			anomalies = append(anomalies, Anomaly{
				Type:        AnomalyHighFailureRate,
				Subject:     ip,
				Count:       s.count,
				Severity:    domain.SeverityWarning,
				Description: fmt.Sprintf("%d login failures from one IP", s.count),
				FirstSeen:   s.first,
				LastSeen:    s.last,
			})
		}
	}

	sort.Slice(anomalies, func(i, j int) bool {
		if anomalies[i].Count != anomalies[j].Count {
			return anomalies[i].Count > anomalies[j].Count
		}
		return anomalies[i].Subject < anomalies[j].Subject
	})
	return anomalies
}

func topUserActivity(activity map[string]int, limit int) []UserActivityCount {
	out := make([]UserActivityCount, 0, len(activity))
	for userID, n := range activity {
		out = append(out, UserActivityCount{UserID: userID, Events: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Events != out[j].Events {
			return out[i].Events > out[j].Events
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func topFailureIPs(failures map[string]int, limit int) []IPFailureCount {
	out := make([]IPFailureCount, 0, len(failures))
	for ip, n := range failures {
		out = append(out, IPFailureCount{IPAddress: ip, Failures: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Failures != out[j].Failures {
			return out[i].Failures > out[j].Failures
		}
		return out[i].IPAddress < out[j].IPAddress
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
