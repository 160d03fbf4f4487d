package codec

import "fmt"

// SPS holds what the extractor needs from a sequence parameter set.
type SPS struct {
	Width   int
	Height  int
	Profile uint8
	Level   uint8
	// FrameRate comes from the VUI timing info; zero when absent.
	FrameRate float64
}

func (s SPS) String() string {
	return fmt.Sprintf("%dx%d profile %d level %d", s.Width, s.Height, s.Profile, s.Level)
}

// highProfiles carry chroma and scaling-matrix syntax in their SPS.
var highProfiles = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// ParseAVCSPS reads an H.264 SPS NAL unit, header byte included.
func ParseAVCSPS(nal []byte) (SPS, error) {
	if len(nal) < 4 {
		return SPS{}, ErrShort
	}
	r := &bitReader{b: unescape(nal[1:])}
	profile := r.bits(8)
	r.skip(8) // constraint flags
	s := SPS{Profile: uint8(profile), Level: uint8(r.bits(8))}
	r.ue() // seq_parameter_set_id

	chroma := uint(1)
	if highProfiles[profile] {
		chroma = r.ue()
		if chroma == 3 && r.flag() {
			// separate_colour_plane_flag
			chroma = 0
		}
		r.ue() // bit_depth_luma_minus8
		r.ue() // bit_depth_chroma_minus8
		r.skip(1)
		if r.flag() {
			lists := 8
			if chroma == 3 {
				lists = 12
			}
			for i := range lists {
				if r.flag() {
					size := 16
					if i >= 6 {
						size = 64
					}
					skipScalingList(r, size)
				}
			}
		}
	}

	r.ue() // log2_max_frame_num_minus4
	switch r.ue() {
	case 0:
		r.ue()
	case 1:
		r.skip(1)
		r.se()
		r.se()
		for n := r.ue(); n > 0 && r.err == nil; n-- {
			r.se()
		}
	}
	r.ue()    // max_num_ref_frames
	r.skip(1) // gaps_in_frame_num_value_allowed_flag
	widthMbs := r.ue() + 1
	heightUnits := r.ue() + 1
	frameMbsOnly := r.bit()
	if frameMbsOnly == 0 {
		r.skip(1)
	}
	r.skip(1) // direct_8x8_inference_flag

	var cropL, cropR, cropT, cropB uint
	if r.flag() {
		cropL, cropR, cropT, cropB = r.ue(), r.ue(), r.ue(), r.ue()
	}
	if r.err != nil {
		return SPS{}, fmt.Errorf("avc sps: %w", r.err)
	}

	subW, subH := uint(2), uint(2)
	switch chroma {
	case 0, 3:
		subW, subH = 1, 1
	case 2:
		subH = 1
	}
	unitY := subH * (2 - frameMbsOnly)
	s.Width = int(widthMbs*16 - subW*(cropL+cropR))
	s.Height = int(heightUnits*16*(2-frameMbsOnly) - unitY*(cropT+cropB))

	if r.flag() {
		s.FrameRate = vuiFrameRate(r)
	}
	return s, nil
}

func skipScalingList(r *bitReader, size int) {
	last, next := 8, 8
	for range size {
		if next != 0 {
			next = (last + r.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// vuiFrameRate walks the VUI up to the timing info. Errors here are not
// fatal; the frame rate is simply unknown.
func vuiFrameRate(r *bitReader) float64 {
	if r.flag() { // aspect_ratio_info_present_flag
		if r.bits(8) == 255 {
			r.skip(32)
		}
	}
	if r.flag() { // overscan_info_present_flag
		r.skip(1)
	}
	if r.flag() { // video_signal_type_present_flag
		r.skip(4)
		if r.flag() {
			r.skip(24)
		}
	}
	if r.flag() { // chroma_loc_info_present_flag
		r.ue()
		r.ue()
	}
	if !r.flag() { // timing_info_present_flag
		return 0
	}
	units := r.bits(32)
	scale := r.bits(32)
	if r.err != nil || units == 0 {
		return 0
	}
	// One frame is two field ticks.
	return float64(scale) / float64(2*units)
}

// ParseHEVCSPS reads an H.265 SPS NAL unit, both header bytes included.
// The frame rate is not extracted.
func ParseHEVCSPS(nal []byte) (SPS, error) {
	if len(nal) < 4 {
		return SPS{}, ErrShort
	}
	r := &bitReader{b: unescape(nal[2:])}
	r.skip(4) // sps_video_parameter_set_id
	subLayers := int(r.bits(3))
	r.skip(1) // sps_temporal_id_nesting_flag

	// profile_tier_level: general part.
	r.skip(3)
	s := SPS{Profile: uint8(r.bits(5))}
	r.skip(32 + 48)
	s.Level = uint8(r.bits(8))
	profilePresent := make([]bool, subLayers)
	levelPresent := make([]bool, subLayers)
	for i := range subLayers {
		profilePresent[i] = r.flag()
		levelPresent[i] = r.flag()
	}
	if subLayers > 0 {
		r.skip(2 * (8 - subLayers))
	}
	for i := range subLayers {
		if profilePresent[i] {
			r.skip(88)
		}
		if levelPresent[i] {
			r.skip(8)
		}
	}

	r.ue() // sps_seq_parameter_set_id
	chroma := r.ue()
	if chroma == 3 {
		r.skip(1)
	}
	w, h := r.ue(), r.ue()
	if r.err != nil {
		return SPS{}, fmt.Errorf("hevc sps: %w", r.err)
	}
	s.Width, s.Height = int(w), int(h)
	if r.flag() { // conformance_window_flag
		subW, subH := uint(1), uint(1)
		switch chroma {
		case 1:
			subW, subH = 2, 2
		case 2:
			subW = 2
		}
		l, rt, t, b := r.ue(), r.ue(), r.ue(), r.ue()
		if r.err == nil {
			s.Width -= int(subW * (l + rt))
			s.Height -= int(subH * (t + b))
		}
	}
	return s, nil
}
