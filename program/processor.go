package program

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"aprvault/crypto"
	"aprvault/observability"
)

// Opcodes understood by the processor. The first payload byte selects the
// operation; remaining bytes are little-endian fixed-width arguments.
const (
	OpMint                  = 0
	OpBurn                  = 1
	OpReportAuthority       = 2
	OpInitializeTreasury    = 3
	OpTransfer              = 4
	OpStake                 = 5
	OpUnstake               = 6
	OpPurchaseTickets       = 7
	OpRedeemTickets         = 8
	OpCreateTreasuryAccount = 9
)

var (
	// ErrInvalidInstruction indicates an unknown opcode or malformed
	// argument bytes.
	ErrInvalidInstruction = errors.New("program: invalid instruction")
	// ErrBadAccountList indicates the positional account list does not
	// match the opcode's expected shape.
	ErrBadAccountList = errors.New("program: bad account list")
)

// TreasuryEngine is the slice of the treasury facade the processor drives.
type TreasuryEngine interface {
	Initialize(treasuryAccount, admin, mintAccount crypto.Address) error
	CreateTreasuryAccount(presented crypto.Address) error
	MintTokens(authority, mint, to, toOwner crypto.Address, amount uint64) error
	BurnTokens(authority, mint, from, owner crypto.Address, amount uint64) error
	TransferTokens(from, to, owner crypto.Address, amount uint64) error
	Authority() (crypto.Address, uint8, error)
	MintAddress() (crypto.Address, uint8, error)
}

// StakingEngine is the slice of the staking facility the processor drives.
type StakingEngine interface {
	Stake(actor, actorToken, recordCandidate crypto.Address, amount uint64) error
	Unstake(actor, actorToken, recordCandidate crypto.Address, amount uint64) error
}

// TicketEngine is the slice of the ticket facility the processor drives.
type TicketEngine interface {
	Purchase(actor, actorToken, ledgerCandidate crypto.Address, amount uint64, vestingPeriod int64) error
	Redeem(actor, actorToken, ledgerCandidate crypto.Address, requested uint64) error
}

// Processor decodes instruction payloads and routes them to the engines.
// Account references are positional; each opcode consumes a fixed, ordered
// list.
type Processor struct {
	treasury TreasuryEngine
	staking  StakingEngine
	tickets  TicketEngine
	logger   *slog.Logger
}

// NewProcessor wires a processor over the three engines.
func NewProcessor(treasury TreasuryEngine, staking StakingEngine, tickets TicketEngine, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		treasury: treasury,
		staking:  staking,
		tickets:  tickets,
		logger:   logger,
	}
}

// Execute runs one instruction against the engines. Every failure is
// immediate and terminal for the call; nothing is retried.
func (p *Processor) Execute(accounts []crypto.Address, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidInstruction)
	}
	opcode := data[0]
	started := time.Now()
	err := p.dispatch(opcode, accounts, data[1:])
	observability.Program().RecordOperation(opName(opcode), err, time.Since(started))
	if err != nil {
		p.logger.Error("instruction failed", "operation", opName(opcode), "error", err)
		return err
	}
	p.logger.Info("instruction processed", "operation", opName(opcode))
	return nil
}

func (p *Processor) dispatch(opcode byte, accounts []crypto.Address, args []byte) error {
	switch opcode {
	case OpMint:
		// payer, mint, recipient token account, mint authority
		if err := wantAccounts(accounts, 4); err != nil {
			return err
		}
		amount, err := decodeU64(args)
		if err != nil {
			return err
		}
		return p.treasury.MintTokens(accounts[3], accounts[1], accounts[2], accounts[0], amount)

	case OpBurn:
		// payer, burn token account, mint, burn authority
		if err := wantAccounts(accounts, 4); err != nil {
			return err
		}
		amount, err := decodeU64(args)
		if err != nil {
			return err
		}
		return p.treasury.BurnTokens(accounts[3], accounts[2], accounts[1], accounts[0], amount)

	case OpReportAuthority:
		authority, authorityBump, err := p.treasury.Authority()
		if err != nil {
			return err
		}
		mint, mintBump, err := p.treasury.MintAddress()
		if err != nil {
			return err
		}
		p.logger.Info("derived authorities",
			"treasury", authority.String(), "treasuryBump", authorityBump,
			"mint", mint.String(), "mintBump", mintBump)
		return nil

	case OpInitializeTreasury:
		// treasury record, admin, mint
		if err := wantAccounts(accounts, 3); err != nil {
			return err
		}
		return p.treasury.Initialize(accounts[0], accounts[1], accounts[2])

	case OpTransfer:
		// sender token account, recipient token account, mint, sender owner
		if err := wantAccounts(accounts, 4); err != nil {
			return err
		}
		amount, err := decodeU64(args)
		if err != nil {
			return err
		}
		return p.treasury.TransferTokens(accounts[0], accounts[1], accounts[3], amount)

	case OpStake:
		// actor token account, treasury token account, treasury authority,
		// actor, staker record
		if err := wantAccounts(accounts, 5); err != nil {
			return err
		}
		amount, err := decodeU64(args)
		if err != nil {
			return err
		}
		return p.staking.Stake(accounts[3], accounts[0], accounts[4], amount)

	case OpUnstake:
		// actor, staker record, actor token account, treasury token
		// account, treasury authority
		if err := wantAccounts(accounts, 5); err != nil {
			return err
		}
		amount, err := decodeU64(args)
		if err != nil {
			return err
		}
		return p.staking.Unstake(accounts[0], accounts[2], accounts[1], amount)

	case OpPurchaseTickets:
		// actor, actor token account, treasury token account, ticket ledger
		if err := wantAccounts(accounts, 4); err != nil {
			return err
		}
		amount, vesting, err := decodeU64I64(args)
		if err != nil {
			return err
		}
		return p.tickets.Purchase(accounts[0], accounts[1], accounts[3], amount, vesting)

	case OpRedeemTickets:
		// ticket ledger, actor, mint, actor token account, treasury
		// authority
		if err := wantAccounts(accounts, 5); err != nil {
			return err
		}
		amount, err := decodeU64(args)
		if err != nil {
			return err
		}
		return p.tickets.Redeem(accounts[1], accounts[3], accounts[0], amount)

	case OpCreateTreasuryAccount:
		// treasury record, admin, mint, treasury token account
		if err := wantAccounts(accounts, 4); err != nil {
			return err
		}
		return p.treasury.CreateTreasuryAccount(accounts[3])

	default:
		return fmt.Errorf("%w: opcode %d", ErrInvalidInstruction, opcode)
	}
}

func wantAccounts(accounts []crypto.Address, n int) error {
	if len(accounts) < n {
		return fmt.Errorf("%w: have %d accounts, want %d", ErrBadAccountList, len(accounts), n)
	}
	return nil
}

func decodeU64(args []byte) (uint64, error) {
	if len(args) < 8 {
		return 0, fmt.Errorf("%w: %d argument bytes", ErrInvalidInstruction, len(args))
	}
	return binary.LittleEndian.Uint64(args[:8]), nil
}

func decodeU64I64(args []byte) (uint64, int64, error) {
	if len(args) < 16 {
		return 0, 0, fmt.Errorf("%w: %d argument bytes", ErrInvalidInstruction, len(args))
	}
	return binary.LittleEndian.Uint64(args[:8]), int64(binary.LittleEndian.Uint64(args[8:16])), nil
}

func opName(opcode byte) string {
	switch opcode {
	case OpMint:
		return "mint"
	case OpBurn:
		return "burn"
	case OpReportAuthority:
		return "report_authority"
	case OpInitializeTreasury:
		return "initialize_treasury"
	case OpTransfer:
		return "transfer"
	case OpStake:
		return "stake"
	case OpUnstake:
		return "unstake"
	case OpPurchaseTickets:
		return "purchase_tickets"
	case OpRedeemTickets:
		return "redeem_tickets"
	case OpCreateTreasuryAccount:
		return "create_treasury_account"
	default:
		return "unknown"
	}
}
