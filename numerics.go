package roundtable

// Reply numerics. Names and codes follow the conventional 3-digit
// numbering; only the codes the server actually sends are listed.
const (
	RPL_WELCOME    = "001"
	RPL_NAMREPLY   = "353"
	RPL_ENDOFNAMES = "366"

	ERR_UNKNOWNERROR     = "400"
	ERR_NOSUCHNICK       = "401"
	ERR_NOSUCHCHANNEL    = "403"
	ERR_CANNOTSENDTOCHAN = "404"
	ERR_UNKNOWNCOMMAND   = "421"
	ERR_NONICKNAMEGIVEN  = "431"
	ERR_NICKNAMEINUSE    = "433"
	ERR_USERNOTINCHANNEL = "441"
	ERR_NOTONCHANNEL     = "442"
	ERR_NOTREGISTERED    = "451"
	ERR_NEEDMOREPARAMS   = "461"
	ERR_KEYSET           = "467"
	ERR_CHANNELISFULL    = "471"
	ERR_UNKNOWNMODE      = "472"
	ERR_BADCHANNELKEY    = "475"
	ERR_CHANOPRIVSNEEDED = "482"
	ERR_USERSDONTMATCH   = "502"
)
