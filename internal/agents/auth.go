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

// AuthConfig 描述鉴权智能体的行为参数。
type AuthConfig struct {
	// TokenContractID 是访问令牌所在的 NFT 合约。
	TokenContractID string
	// AccountSuffix 是新建子账户的命名后缀（<token>.<suffix>）。
	AccountSuffix string
}

// AuthAgent 负责钱包创建与访问令牌校验。
type AuthAgent struct {
	ledger ledger.Client
	cfg    AuthConfig
	log    *slog.Logger
}

// NewAuthAgent 创建鉴权智能体。
func NewAuthAgent(ledgerClient ledger.Client, cfg AuthConfig) *AuthAgent {
	return &AuthAgent{
		ledger: ledgerClient,
		cfg:    cfg,
		log:    logger.Named("auth-agent"),
	}
}

// ID 实现 Agent 接口。
func (a *AuthAgent) ID() command.AgentID { return command.AgentAuth }

const authUsageReply = "Please say 'create wallet', 'connect wallet', or 'check access' to proceed."

// Handle 处理鉴权相关命令。
func (a *AuthAgent) Handle(ctx context.Context, cmd command.Command, sess *session.Session) Result {
	switch cmd.Verb {
	case command.VerbCreateWallet:
		if cmd.Arg(command.ArgPhase) == "finalize" {
			return a.finalizeWallet(ctx, cmd)
		}
		return a.startWalletCreation(ctx, cmd)
	case command.VerbConnectWallet, command.VerbCheckAccess:
		return a.checkAccess(ctx, cmd, sess)
	default:
		return Result{Reply: authUsageReply, AwaitingInput: true}
	}
}

// startWalletCreation 生成密钥对并移交 NFT 智能体铸造访问令牌。
// 账户名依赖铸造出的 token_id，因此创建流程在铸造完成后回到本智能体收尾。
func (a *AuthAgent) startWalletCreation(ctx context.Context, cmd command.Command) Result {
	pair, err := a.ledger.GenerateKey(ctx)
	if err != nil {
		a.log.Error("生成密钥对失败", slog.Any("error", err))
		return failure(
			xerrors.Wrap(xerrors.CodeLedgerCallFailed, err, "生成密钥对失败"),
			fmt.Sprintf("Error creating wallet: %v", err),
		)
	}

	mint := command.New(command.VerbMintToken,
		command.ArgFlow, "create_wallet",
		command.ArgPublicKey, pair.PublicKey,
		command.ArgPrivateKey, pair.PrivateKey,
	)
	if signer := cmd.Arg(command.ArgSignerID); signer != "" {
		mint = mint.WithArg(command.ArgSignerID, signer)
	}

	return Result{
		Reply:   "Minting your access token...",
		HandOff: &command.RouteDecision{Target: command.AgentNFT, Command: mint},
	}
}

// finalizeWallet 在令牌铸造完成后创建子账户并写入凭证。
func (a *AuthAgent) finalizeWallet(ctx context.Context, cmd command.Command) Result {
	tokenID := cmd.Arg(command.ArgTokenID)
	publicKey := cmd.Arg(command.ArgPublicKey)
	if tokenID == "" || publicKey == "" {
		return failure(
			xerrors.New(xerrors.CodeMalformedCommandArgs, "钱包收尾命令缺少参数"),
			"Error creating wallet: no token_id found after minting",
		)
	}

	accountID := fmt.Sprintf("%s.%s", tokenID, a.cfg.AccountSuffix)
	outcome, err := a.ledger.CreateAccount(ctx, accountID, publicKey, initialAccountBalance)
	if err != nil || !outcome.Success {
		if err == nil {
			err = xerrors.New(xerrors.CodeLedgerCallFailed, "创建账户被账本拒绝")
		}
		a.log.Error("创建账户失败", slog.String("account_id", accountID), slog.Any("error", err))
		return failure(
			xerrors.Wrap(xerrors.CodeLedgerCallFailed, err, "创建账户失败"),
			fmt.Sprintf("Error creating wallet: %v", err),
		)
	}
	logger.System().Info("account created",
		slog.String("agent", "auth"), slog.String("account_id", accountID))

	credentials, _ := json.Marshal(map[string]string{
		"account_id":  accountID,
		"public_key":  publicKey,
		"private_key": cmd.Arg(command.ArgPrivateKey),
		"token_id":    tokenID,
	})

	// 创建后立即复查令牌归属：令牌通常仍由托管账户持有，
	// 用户需要一次转移才能真正获得访问权。
	authorized, ownedToken, err := a.tokenOwnership(ctx, accountID)
	if err != nil {
		a.log.Warn("创建后复查令牌失败", slog.Any("error", err))
		authorized, ownedToken = false, ""
	}

	status := session.AuthStatus{UserID: accountID, Authorized: authorized, TokenID: ownedToken}
	reply := fmt.Sprintf("Wallet %s created but no token found. Mint a token to gain access.", accountID)
	if authorized {
		reply = fmt.Sprintf("Wallet %s created and authorized with token %s.", accountID, ownedToken)
	}

	return Result{
		Reply: fmt.Sprintf("Wallet created successfully! Account ID: %s. Credentials saved in thread. %s", accountID, reply),
		Patch: session.Patch{
			AuthStatus: &status,
			Attachments: []session.Attachment{
				{Filename: "wallet_credentials.json", ContentType: "application/json", Bytes: credentials},
				authStatusAttachment(status),
			},
		},
		AwaitingInput: true,
	}
}

// checkAccess 校验签名者是否持有访问令牌。
func (a *AuthAgent) checkAccess(ctx context.Context, cmd command.Command, sess *session.Session) Result {
	signer := signerOf(cmd, sess)
	if signer == "" {
		return failure(
			xerrors.New(xerrors.CodeNotAuthenticated, ""),
			"No NEAR wallet connected. Please log in with your NEAR wallet or create a new wallet by writing 'create wallet'.",
		)
	}

	authorized, tokenID, err := a.tokenOwnership(ctx, signer)
	if err != nil {
		a.log.Error("令牌归属查询失败", slog.String("user_id", signer), slog.Any("error", err))
		return failure(
			xerrors.Wrap(xerrors.CodeLedgerCallFailed, err, "令牌归属查询失败"),
			fmt.Sprintf("Failed to check token ownership: %v", err),
		)
	}

	status := session.AuthStatus{UserID: signer, Authorized: authorized, TokenID: tokenID}
	reply := fmt.Sprintf("Access denied. Wallet %s does not hold a token. Mint a token by writing 'mint token' to gain access.", signer)
	if authorized {
		reply = fmt.Sprintf("Access granted! Wallet %s holds token %s.", signer, tokenID)
	}
	logger.System().Info("access checked",
		slog.String("agent", "auth"), slog.String("user_id", signer), slog.Bool("authorized", authorized))

	return Result{
		Reply:         reply,
		Patch:         session.Patch{AuthStatus: &status, Attachments: []session.Attachment{authStatusAttachment(status)}},
		AwaitingInput: true,
	}
}

// tokenOwnership 查询账户持有的首个访问令牌。查询是只读的，底层客户端会做有限重试。
func (a *AuthAgent) tokenOwnership(ctx context.Context, accountID string) (bool, string, error) {
	raw, err := a.ledger.View(ctx, a.cfg.TokenContractID, "nft_tokens_for_owner", map[string]any{
		"account_id": accountID,
		"from_index": nil,
		"limit":      1,
	})
	if err != nil {
		return false, "", err
	}

	var tokens []struct {
		TokenID string `json:"token_id"`
	}
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return false, "", fmt.Errorf("解析令牌列表失败: %w", err)
	}
	if len(tokens) == 0 {
		return false, "", nil
	}
	return true, tokens[0].TokenID, nil
}
