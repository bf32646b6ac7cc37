package audio

// StereoToMono folds interleaved stereo S16LE PCM into mono by averaging the
// two channels per sample pair. A trailing partial frame is dropped.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		l := int16(uint16(pcm[i*4]) | uint16(pcm[i*4+1])<<8)
		r := int16(uint16(pcm[i*4+2]) | uint16(pcm[i*4+3])<<8)
		m := int16((int32(l) + int32(r)) / 2)
		out[i*2] = byte(m)
		out[i*2+1] = byte(uint16(m) >> 8)
	}
	return out
}

// MonoToStereo duplicates each mono S16LE sample into both channels.
func MonoToStereo(pcm []byte) []byte {
	samples := len(pcm) / 2
	out := make([]byte, samples*4)
	for i := 0; i < samples; i++ {
		lo, hi := pcm[i*2], pcm[i*2+1]
		out[i*4], out[i*4+1] = lo, hi
		out[i*4+2], out[i*4+3] = lo, hi
	}
	return out
}

// ResampleMono16 converts mono S16LE PCM from srcRate to dstRate by linear
// interpolation. Adequate for speech; not a band-limited resampler. Equal
// rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	src := len(pcm) / 2
	if src == 0 {
		return nil
	}
	dst := int(int64(src) * int64(dstRate) / int64(srcRate))
	if dst == 0 {
		return nil
	}

	out := make([]byte, dst*2)
	step := float64(src-1) / float64(dst)
	for i := 0; i < dst; i++ {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)

		a := int16(uint16(pcm[j*2]) | uint16(pcm[j*2+1])<<8)
		v := float64(a)
		if j+1 < src {
			b := int16(uint16(pcm[j*2+2]) | uint16(pcm[j*2+3])<<8)
			v += frac * float64(int32(b)-int32(a))
		}
		s := int16(v)
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// Convert returns a copy of the clip in the target format. Stereo input is
// folded to mono before resampling, so a stereo-to-stereo rate change loses
// the stereo image; speech clips in this pipeline are mono throughout. A clip
// already in the target format is returned as is.
func (c *Clip) Convert(target Format) *Clip {
	if c.SampleRate == target.SampleRate && c.Channels == target.Channels {
		return c
	}

	pcm := c.PCM
	if c.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	if c.SampleRate != target.SampleRate {
		pcm = ResampleMono16(pcm, c.SampleRate, target.SampleRate)
	}
	if target.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}

	return &Clip{PCM: pcm, SampleRate: target.SampleRate, Channels: target.Channels}
}
