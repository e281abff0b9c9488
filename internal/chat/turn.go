package chat

import "github.com/nidhogg/lingochat/internal/compressor"

// Turn is one in-flight exchange. Fragments must be received, either by
// ranging over Fragments or by calling Wait, or the stream stalls.
type Turn struct {
	ID           string
	Compression  compressor.Result
	Uncompressed bool

	fragments chan string
	done      chan struct{}

	// written before done is closed
	text string
	err  error
}

// Fragments yields the reply fragments in arrival order. The channel is
// closed when the stream ends for any reason.
func (t *Turn) Fragments() <-chan string { return t.fragments }

// Done is closed once the turn has ended and the history is updated.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait discards any fragments not yet received, blocks until the turn
// ends and returns the aggregated reply. On failure the partial reply is
// returned with the error.
func (t *Turn) Wait() (string, error) {
	for range t.fragments {
	}
	<-t.done
	return t.text, t.err
}
