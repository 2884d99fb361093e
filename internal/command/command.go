package command

// Verb 是一次回合内解析出的用户意图。只在回合内传递，从不持久化。
type Verb string

const (
	VerbCreateWallet  Verb = "CREATE_WALLET"
	VerbConnectWallet Verb = "CONNECT_WALLET"
	VerbCheckAccess   Verb = "CHECK_ACCESS"
	VerbMintToken     Verb = "MINT_TOKEN"
	VerbTransferToken Verb = "TRANSFER_TOKEN"
	VerbUploadFile    Verb = "UPLOAD_FILE"
	VerbConfirm       Verb = "CONFIRM"
	VerbProcessFile   Verb = "PROCESS_FILE"
	VerbWelcome       Verb = "WELCOME"
	VerbUnknown       Verb = "UNKNOWN"
)

// 常用的参数键。
const (
	ArgReceiverID = "receiver_id"
	ArgTokenID    = "token_id"
	ArgFilename   = "filename"
	ArgConfirmed  = "confirmed"
	ArgSignerID   = "signer_id"
	ArgUtterance  = "utterance"
	ArgHint       = "hint"
	ArgFlow       = "flow"
	ArgPhase      = "phase"
	ArgPublicKey  = "public_key"
	ArgPrivateKey = "private_key"
)

// Command 携带一个动词与解析出的参数。
type Command struct {
	Verb Verb
	Args map[string]string
}

// New 构造一个带参数的命令。
func New(verb Verb, kv ...string) Command {
	cmd := Command{Verb: verb}
	if len(kv) > 0 {
		cmd.Args = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			cmd.Args[kv[i]] = kv[i+1]
		}
	}
	return cmd
}

// Arg 读取参数，缺失时返回空字符串。
func (c Command) Arg(key string) string {
	if c.Args == nil {
		return ""
	}
	return c.Args[key]
}

// WithArg 返回带有新增参数的命令副本。
func (c Command) WithArg(key, value string) Command {
	args := make(map[string]string, len(c.Args)+1)
	for k, v := range c.Args {
		args[k] = v
	}
	args[key] = value
	c.Args = args
	return c
}

// Confirmed 解析 CONFIRM 命令的布尔参数。
func (c Command) Confirmed() bool {
	return c.Arg(ArgConfirmed) == "true"
}

// AgentID 标识一个智能体角色。
type AgentID string

const (
	AgentAuth    AgentID = "auth"
	AgentNFT     AgentID = "nft"
	AgentUpload  AgentID = "upload"
	AgentStorage AgentID = "storage"
	AgentManager AgentID = "manager"
)

// KnownAgent 判断标识是否为已注册的智能体角色。
func KnownAgent(id AgentID) bool {
	switch id {
	case AgentAuth, AgentNFT, AgentUpload, AgentStorage, AgentManager:
		return true
	}
	return false
}

// RouteDecision 是路由器（或智能体移交）给出的下一跳。
// 只在一个编排回合内产生与消费。
type RouteDecision struct {
	Target  AgentID
	Command Command
}
