package codec

// Origin is the structured (srcEid, sender, nonce) view over a packet header
// passed to the target-chain's executable/lzReceive methods.
type Origin struct {
	SrcEid uint32
	Sender [32]byte
	Nonce  uint64
}

// OriginFromPacket extracts the Origin tuple from an encoded packet.
func OriginFromPacket(raw []byte) (Origin, error) {
	if len(raw) < HeaderSize {
		return Origin{}, ErrShortPacket
	}
	o := Origin{
		SrcEid: SrcEid(raw),
		Nonce:  Nonce(raw),
	}
	copy(o.Sender[:], Sender(raw))
	return o, nil
}
