// Package model holds the entity types shared by every domain component and
// the Store. Monetary amounts are always 64-bit integer minor units; odds are
// decimal with three-decimal fixed precision, also carried as integer
// milli-units (odds * 1000) to avoid floating point drift in comparisons.
package model

import "time"

// AgentType is the closed set of agent roles in the hierarchy.
type AgentType string

const (
	AgentTypeUser  AgentType = "U"
	AgentTypeAgent AgentType = "A"
	AgentTypeMaster AgentType = "M"
	AgentTypeSuper AgentType = "S"
)

// AgentStatus is the closed set of agent lifecycle states.
type AgentStatus string

const (
	AgentStatusActive     AgentStatus = "active"
	AgentStatusInactive   AgentStatus = "inactive"
	AgentStatusSuspended  AgentStatus = "suspended"
	AgentStatusTerminated AgentStatus = "terminated"
)

// Agent is a node in the agent hierarchy.
type Agent struct {
	ID                    string
	Login                 string
	ParentID              string
	Type                  AgentType
	Status                AgentStatus
	OfficeTag             string
	CommissionStructureID string
	Permissions           uint64
	Config                map[string]string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// CustomerTier is the closed set of VIP tiers, ordered low to high.
type CustomerTier string

const (
	TierBronze   CustomerTier = "bronze"
	TierSilver   CustomerTier = "silver"
	TierGold     CustomerTier = "gold"
	TierPlatinum CustomerTier = "platinum"
	TierDiamond  CustomerTier = "diamond"
	TierVIP      CustomerTier = "vip"
)

// tierRank orders tiers for comparisons like "tier >= T-1".
var tierRank = map[CustomerTier]int{
	TierBronze: 0, TierSilver: 1, TierGold: 2, TierPlatinum: 3, TierDiamond: 4, TierVIP: 5,
}

// Rank returns t's position in the tier ordering, -1 if t is not recognized.
func (t CustomerTier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return -1
}

// AttachmentKind is the closed set of customer-agent relationship kinds.
type AttachmentKind string

const (
	AttachmentPrimary   AttachmentKind = "primary"
	AttachmentSecondary AttachmentKind = "secondary"
	AttachmentTemporary AttachmentKind = "temporary"
)

// CustomerAttachment links a customer to an agent with a commission split.
type CustomerAttachment struct {
	CustomerID string
	AgentID    string
	Kind       AttachmentKind
	SplitBps   int // basis points, 0..10000
}

// CustomerStatus is the closed set of customer lifecycle states.
type CustomerStatus string

const (
	CustomerStatusActive    CustomerStatus = "active"
	CustomerStatusSuspended CustomerStatus = "suspended"
	CustomerStatusClosed    CustomerStatus = "closed"
)

// Customer is a bettor attached to one primary and any number of
// secondary/temporary agents.
type Customer struct {
	ID               string
	Tier             CustomerTier
	Status           CustomerStatus
	LifetimeVolume   int64
	RiskScore        int // 0..100
	RiskLevel        string
	KYCState         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OwnerKind is the closed set of ledger account owner kinds.
type OwnerKind string

const (
	OwnerCustomer OwnerKind = "customer"
	OwnerAgent    OwnerKind = "agent"
	OwnerHouse    OwnerKind = "house"
	OwnerEscrow   OwnerKind = "escrow"
)

// Bucket is the closed set of balance buckets within an owner's account.
type Bucket string

const (
	BucketAvailable Bucket = "available"
	BucketReserved  Bucket = "reserved"
	BucketHouse     Bucket = "house"
	BucketEscrow    Bucket = "escrow"
	BucketFreeplay  Bucket = "freeplay"
)

// AccountRef identifies a ledger account.
type AccountRef struct {
	OwnerKind OwnerKind
	OwnerID   string
	Bucket    Bucket
	Currency  string
}

// LedgerAccount is the durable balance record behind an AccountRef.
type LedgerAccount struct {
	Ref       AccountRef
	Available int64
	Reserved  int64
}

// Posting is an atomic double-entry record. Debits equal credits per
// transaction; postings are append-only.
type Posting struct {
	ID            string
	From          AccountRef
	To            AccountRef
	Amount        int64
	Reason        string
	CorrelationID string
	Timestamp     time.Time
}

// WagerStatus is the closed set of wager lifecycle states.
type WagerStatus string

const (
	WagerStatusPending   WagerStatus = "pending"
	WagerStatusActive    WagerStatus = "active"
	WagerStatusWon       WagerStatus = "won"
	WagerStatusLost      WagerStatus = "lost"
	WagerStatusCancelled WagerStatus = "cancelled"
	WagerStatusVoid      WagerStatus = "void"
	WagerStatusPushed    WagerStatus = "pushed"
)

// Wager is a single bet placed by a customer against an event.
type Wager struct {
	ID                string
	CustomerID        string
	AgentID           string
	EventID           string
	BetType           string
	Selection         string
	Stake             int64
	OddsMilli         int64 // decimal odds * 1000, e.g. 1.910 -> 1910
	PotentialPayout   int64
	RiskLevel         string
	VIPTier           CustomerTier
	Status            WagerStatus
	PlacedAt          time.Time
	SettledAt         *time.Time
	ActualWin         int64
	SettlementOutcome WagerStatus
	SettledBy         string
	Notes             string
}

// EventStatus is the closed set of sporting-event lifecycle states.
type EventStatus string

const (
	EventStatusScheduled EventStatus = "scheduled"
	EventStatusLive      EventStatus = "live"
	EventStatusCompleted EventStatus = "completed"
	EventStatusCancelled EventStatus = "cancelled"
	EventStatusPostponed EventStatus = "postponed"
)

// OddsSnapshot is the current price for an event, plus capped history.
type OddsSnapshot struct {
	MoneylineHomeMilli int64
	MoneylineAwayMilli int64
	LastUpdated        time.Time
	Movements          []OddsMovement
}

// OddsMovement is one entry in an event's odds history, capped FIFO at 50.
type OddsMovement struct {
	Timestamp time.Time
	HomeMilli int64
	AwayMilli int64
	Volume    int64
	Reason    string
}

// Event is a sporting event wagers attach to.
type Event struct {
	ID        string
	Sport     string
	League    string
	StartTime time.Time
	Status    EventStatus
	VIPAccess map[CustomerTier]bool
	Odds      OddsSnapshot
}

// VolumeBonusTier adds bonusRate once revenue crosses minVolume.
type VolumeBonusTier struct {
	MinVolume int64
	BonusRate float64
}

// PerformanceBonusRule grants a fixed or fractional bonus when a metric
// crosses a threshold during the period.
type PerformanceBonusRule struct {
	Metric      string
	Threshold   float64
	BonusAmount int64
	BonusRate   float64
}

// CommissionOverride replaces the effective rate for a matching slice of revenue.
type CommissionOverride struct {
	Sport      string
	BetType    string
	CustomerID string
	Rate       float64
}

// PayoutSchedule is the closed set of commission payout cadences.
type PayoutSchedule string

const (
	ScheduleWeekly   PayoutSchedule = "weekly"
	ScheduleBiweekly PayoutSchedule = "biweekly"
	ScheduleMonthly  PayoutSchedule = "monthly"
)

// CommissionStructure configures how an agent's commission is computed.
type CommissionStructure struct {
	ID                string
	BaseRate          float64
	VolumeBonusTiers  []VolumeBonusTier
	PerformanceBonuses []PerformanceBonusRule
	Overrides         []CommissionOverride
	PayoutSchedule    PayoutSchedule
}

// CalculationState is the closed set of commission-calculation states.
type CalculationState string

const (
	CalcPending  CalculationState = "pending"
	CalcApproved CalculationState = "approved"
	CalcPaid     CalculationState = "paid"
	CalcVoid     CalculationState = "void"
)

// CommissionBreakdown is the audit trail behind a computed amount.
type CommissionBreakdown struct {
	Revenue             int64
	BaseRate            float64
	VolumeBonus         float64
	PerformanceBonuses  []int64
	OverridesApplied    []string
	EffectiveRate       float64
	Amount              int64
}

// CommissionCalculation is one agent-period commission result.
type CommissionCalculation struct {
	ID            string
	AgentID       string
	StructureID   string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	GrossRevenue  int64
	Amount        int64
	Breakdown     CommissionBreakdown
	State         CalculationState
}

// PayoutState is the closed set of payout lifecycle states.
type PayoutState string

const (
	PayoutPending    PayoutState = "pending"
	PayoutProcessing PayoutState = "processing"
	PayoutCompleted  PayoutState = "completed"
	PayoutFailed     PayoutState = "failed"
	PayoutCancelled  PayoutState = "cancelled"
)

// Payout is a commission disbursement to an agent.
type Payout struct {
	ID           string
	AgentID      string
	Amount       int64
	Currency     string
	State        PayoutState
	Reference    string
	ProcessedBy  string
	CompletedAt  *time.Time
	CreatedAt    time.Time
	CalculationIDs []string
}

// QueueDirection is the closed set of matching-queue item directions.
type QueueDirection string

const (
	DirectionWithdrawal QueueDirection = "withdrawal"
	DirectionDeposit    QueueDirection = "deposit"
)

// QueueItemState is the closed set of matching-queue item states.
type QueueItemState string

const (
	QueueStateQueued          QueueItemState = "queued"
	QueueStateReserved        QueueItemState = "reserved"
	QueueStatePartiallyFilled QueueItemState = "partially-filled"
	QueueStateFilled          QueueItemState = "filled"
	QueueStateExpired         QueueItemState = "expired"
	QueueStateCancelled       QueueItemState = "cancelled"
)

// QueueItem is a pending withdrawal or deposit awaiting a P2P match.
type QueueItem struct {
	ID              string
	Direction       QueueDirection
	CustomerID      string
	Amount          int64
	Residual        int64
	Currency        string
	AllowedMethods  map[string]bool
	AllowPartial    bool
	EnqueuedAt      time.Time
	TimeoutAt       time.Time
	State           QueueItemState
	RiskScore       int
	Tier            CustomerTier
	Attempts        int
	ActiveAttemptID string
}

// MatchAttemptState is the closed set of match-attempt states.
type MatchAttemptState string

const (
	AttemptPending   MatchAttemptState = "pending"
	AttemptConfirmed MatchAttemptState = "confirmed"
	AttemptAborted   MatchAttemptState = "aborted"
)

// MatchAttempt is a time-bounded provisional pairing of two queue items.
type MatchAttempt struct {
	ID             string
	WithdrawalID   string
	DepositID      string
	Amount         int64
	ExpiresAt      time.Time
	State          MatchAttemptState
}

// AuditEntry is an append-only record of a state transition on a durable entity.
type AuditEntry struct {
	ID         string
	Resource   string
	ResourceID string
	Action     string
	Result     string
	Timestamp  time.Time
	Details    map[string]interface{}
}
