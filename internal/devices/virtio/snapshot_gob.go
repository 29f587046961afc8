package virtio

import "encoding/gob"

func init() {
	gob.Register(TransportSnapshot{})
	gob.Register(QueueSnapshot{})
}
