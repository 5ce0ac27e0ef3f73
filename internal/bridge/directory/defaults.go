package directory

// humanQueue is the contact-center queue every built-in key points at.
const humanQueue = "sip:9502@smdcc.fusionnetworks.net"

var defaultKeys = []string{
	"patient care coordinator team",
	"pcc",
	"manhasset office queue",
	"lasik evaluation team",
	"billing team or millenia team",
	"millenia team",
	"billing team",
	"clinical care team",
	"manhasset surgery coordinator",
	"manhasset front desk",
	"manhasset clinic manager",
	"technician team at manhasset",
	"medical records team at manhasset",
	"korean queue",
	"spanish queue",
}

// DefaultQueue is the destination used by the webhook call-hook when no key is given.
func DefaultQueue() Entry {
	return Entry{Key: "default", Kind: KindSIP, Destination: humanQueue}
}

// Default returns the built-in directory used when no file is configured.
func Default() *Directory {
	entries := make([]Entry, 0, len(defaultKeys))
	for _, k := range defaultKeys {
		entries = append(entries, Entry{Key: k, Kind: KindSIP, Destination: humanQueue})
	}
	d, err := New(entries)
	if err != nil {
		panic(err)
	}
	return d
}
