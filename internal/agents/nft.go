package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"FansDFS/internal/command"
	xerrors "FansDFS/internal/errors"
	"FansDFS/internal/ledger"
	"FansDFS/internal/session"
	"FansDFS/pkg/logger"
)

// NFTConfig 描述 NFT 智能体的行为参数。
type NFTConfig struct {
	// TokenContractID 是访问令牌合约。
	TokenContractID string
	// CustodyAccountID 在钱包创建流程中暂持新铸令牌。
	CustodyAccountID string
}

// NFTAgent 负责访问令牌的铸造与转移。
type NFTAgent struct {
	ledger ledger.Client
	cfg    NFTConfig
	log    *slog.Logger
}

// NewNFTAgent 创建 NFT 智能体。
func NewNFTAgent(ledgerClient ledger.Client, cfg NFTConfig) *NFTAgent {
	return &NFTAgent{
		ledger: ledgerClient,
		cfg:    cfg,
		log:    logger.Named("nft-agent"),
	}
}

// ID 实现 Agent 接口。
func (a *NFTAgent) ID() command.AgentID { return command.AgentNFT }

const nftUsageReply = "Please say 'mint token' or 'transfer token <receiver_id> <token_id>'."

// Handle 处理令牌相关命令。
func (a *NFTAgent) Handle(ctx context.Context, cmd command.Command, sess *session.Session) Result {
	switch cmd.Verb {
	case command.VerbMintToken:
		return a.mint(ctx, cmd, sess)
	case command.VerbTransferToken:
		return a.transfer(ctx, cmd, sess)
	default:
		return Result{Reply: nftUsageReply, AwaitingInput: true}
	}
}

// mint 铸造一枚访问令牌。铸造是变更操作，失败绝不重试。
func (a *NFTAgent) mint(ctx context.Context, cmd command.Command, sess *session.Session) Result {
	owner := signerOf(cmd, sess)
	inCreateFlow := cmd.Arg(command.ArgFlow) == "create_wallet"
	if owner == "" {
		if !inCreateFlow {
			return failure(
				xerrors.New(xerrors.CodeNotAuthenticated, ""),
				"Please connect your NEAR wallet first.",
			)
		}
		// 钱包创建流程中还没有用户账户，令牌先由托管账户持有。
		owner = a.cfg.CustodyAccountID
	}

	outcome, err := a.ledger.Call(ctx, a.cfg.TokenContractID, "nft_mint", map[string]any{
		"token_owner_id": owner,
		"token_metadata": map[string]any{
			"title":       "1000fans Access Token",
			"description": "Grants access to 1000fans platform",
			"copies":      1,
		},
	}, defaultGas, mintStorageDeposit)
	if err != nil || !outcome.Success {
		if err == nil {
			err = xerrors.New(xerrors.CodeLedgerCallFailed, "铸造被账本拒绝")
		}
		a.log.Error("铸造令牌失败", slog.String("owner", owner), slog.Any("error", err))
		return failure(
			xerrors.Wrap(xerrors.CodeLedgerCallFailed, err, "铸造令牌失败"),
			fmt.Sprintf("Failed to mint token: %v", err),
		)
	}

	var token struct {
		TokenID string `json:"token_id"`
	}
	if err := json.Unmarshal(outcome.Value, &token); err != nil || token.TokenID == "" {
		a.log.Error("铸造结果缺少 token_id", slog.Any("error", err))
		return failure(
			xerrors.New(xerrors.CodeLedgerCallFailed, "铸造结果缺少 token_id"),
			"Failed to mint token: minting returned no token",
		)
	}
	logger.System().Info("token minted",
		slog.String("agent", "nft"), slog.String("owner", owner), slog.String("token_id", token.TokenID))

	// 钱包创建流程：令牌由托管账户暂持，鉴权状态只能由收尾步骤写入。
	// 这一跳不碰会话，token_id 只随移交命令传递，收尾失败时会话保持原样。
	if inCreateFlow {
		finalize := command.New(command.VerbCreateWallet,
			command.ArgPhase, "finalize",
			command.ArgTokenID, token.TokenID,
			command.ArgPublicKey, cmd.Arg(command.ArgPublicKey),
			command.ArgPrivateKey, cmd.Arg(command.ArgPrivateKey),
		)
		return Result{
			Reply:   fmt.Sprintf("Token %s minted for %s.", token.TokenID, owner),
			HandOff: &command.RouteDecision{Target: command.AgentAuth, Command: finalize},
		}
	}

	status := session.AuthStatus{UserID: owner, Authorized: true, TokenID: token.TokenID}
	return Result{
		Reply: fmt.Sprintf("Token %s minted for %s.", token.TokenID, owner),
		Patch: session.Patch{
			AuthStatus:  &status,
			Attachments: []session.Attachment{authStatusAttachment(status)},
		},
		AwaitingInput: true,
	}
}

// transfer 转移一枚令牌，携带 payable 方法要求的 1 yocto。
func (a *NFTAgent) transfer(ctx context.Context, cmd command.Command, sess *session.Session) Result {
	receiverID := cmd.Arg(command.ArgReceiverID)
	tokenID := cmd.Arg(command.ArgTokenID)
	if receiverID == "" || tokenID == "" {
		return failure(
			xerrors.New(xerrors.CodeMalformedCommandArgs, ""),
			"Please specify: 'transfer token <receiver_id> <token_id>'.",
		)
	}

	outcome, err := a.ledger.Call(ctx, a.cfg.TokenContractID, "nft_transfer", map[string]any{
		"receiver_id": receiverID,
		"token_id":    tokenID,
		"approval_id": nil,
		"memo":        "Transferred via 1000fans console",
	}, defaultGas, oneYocto)
	if err != nil || !outcome.Success {
		if err == nil {
			err = xerrors.New(xerrors.CodeLedgerCallFailed, "转移被账本拒绝")
		}
		a.log.Error("转移令牌失败",
			slog.String("receiver_id", receiverID), slog.String("token_id", tokenID), slog.Any("error", err))
		return failure(
			xerrors.Wrap(xerrors.CodeLedgerCallFailed, err, "转移令牌失败"),
			fmt.Sprintf("Failed to transfer token: %v", err),
		)
	}
	logger.System().Info("token transferred",
		slog.String("agent", "nft"), slog.String("receiver_id", receiverID), slog.String("token_id", tokenID))

	return Result{
		Reply:         fmt.Sprintf("Token %s transferred to %s.", tokenID, receiverID),
		AwaitingInput: true,
	}
}
