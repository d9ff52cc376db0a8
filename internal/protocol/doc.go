// Package protocol implements the smart plug and bulb LAN protocol.
//
// Devices accept JSON commands on port 9999 over TCP or UDP. The JSON text is
// obfuscated with an autokey XOR stream seeded with 0xAB: every output byte
// is the key for the next input byte. TCP messages additionally carry a
// 4-byte big-endian length prefix; UDP datagrams carry none.
//
// # Frame Format (TCP)
//
//   - Length: 4 bytes, big-endian, plaintext byte count
//   - Body: Encrypt(plaintext)
//
// # Commands
//
// A command maps module to method to parameters, and may batch several
// modules and methods in one request:
//
//	{"system":{"get_sysinfo":{}},"emeter":{"get_realtime":{}}}
//
// Outlets of a power strip are addressed with a top-level context key:
//
//	{"context":{"child_ids":["8006...00"]},"system":{"set_relay_state":{"state":1}}}
//
// Plugs and bulbs use different module names for the same features; see
// PlugNamespaces and BulbNamespaces.
//
// # Responses
//
// Responses mirror the command shape. Each result object carries err_code,
// where zero means success. ProcessResponse checks every result of a batch
// and attributes failures to their module and method.
//
// # Usage Example
//
//	cmd := protocol.SysInfoCommand()
//	body, _ := cmd.Marshal()
//	frame := protocol.EncryptWithHeader(body, protocol.FirstKey)
//	// ... write frame, read reply ...
//	plain, err := protocol.DecryptWithHeader(reply, protocol.FirstKey)
//	if err != nil {
//	    return err
//	}
//	decoded, err := protocol.ParseJSON(string(plain))
//	if err != nil {
//	    return err
//	}
//	result, err := protocol.ProcessResponse(cmd, decoded.(map[string]any))
package protocol
