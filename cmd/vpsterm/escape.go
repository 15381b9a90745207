package main

// escapeByte is Ctrl-].
const escapeByte = 0x1d

// Local commands entered after the escape byte.
const (
	cmdFullscreen = 'f'
	cmdReconnect  = 'r'
	cmdQuit       = 'q'
)

// escapeReader splits keyboard input into bytes for the remote shell and
// local commands. The escape byte followed by a command letter is a local
// command; pressing it twice sends one literal escape byte; anything else
// after it is forwarded unchanged.
type escapeReader struct {
	pending bool
}

func (e *escapeReader) feed(p []byte) (data []byte, cmds []byte) {
	for _, b := range p {
		if e.pending {
			e.pending = false
			switch b {
			case cmdFullscreen, cmdReconnect, cmdQuit:
				cmds = append(cmds, b)
			case escapeByte:
				data = append(data, escapeByte)
			default:
				data = append(data, escapeByte, b)
			}
			continue
		}
		if b == escapeByte {
			e.pending = true
			continue
		}
		data = append(data, b)
	}
	return data, cmds
}
