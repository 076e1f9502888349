package domain

// BackgroundByID は ID に一致する背景を返します。見つからない場合は nil です。
func (p *StoryboardPlan) BackgroundByID(id string) *Background {
	for i := range p.Backgrounds {
		if p.Backgrounds[i].ID == id {
			return &p.Backgrounds[i]
		}
	}
	return nil
}

// FrameByNumber はフレーム番号に一致するフレームを返します。
func (p *StoryboardPlan) FrameByNumber(n int) *FramePlan {
	for i := range p.Frames {
		if p.Frames[i].FrameNumber == n {
			return &p.Frames[i]
		}
	}
	return nil
}

// PendingBackgrounds は画像 URL を持たない背景のインデックスを返します。
func (p *StoryboardPlan) PendingBackgrounds() []int {
	var idx []int
	for i, bg := range p.Backgrounds {
		if bg.ImageURL == "" {
			idx = append(idx, i)
		}
	}
	return idx
}

// PendingFrames は画像 URL を持たないフレームのインデックスを、
// 通常フレームと第2キーフレームに分けて返します。
// 第2キーフレームはリンク先フレームの画像を参照するため後段で生成します。
func (p *StoryboardPlan) PendingFrames() (primary, second []int) {
	for i, f := range p.Frames {
		if f.ImageURL != "" {
			continue
		}
		if f.IsSecondKeyframe && f.LinkedFrame > 0 {
			second = append(second, i)
			continue
		}
		primary = append(primary, i)
	}
	return primary, second
}

// SecondKeyframeFor は指定フレームにリンクされた第2キーフレームを返します。
func (p *StoryboardPlan) SecondKeyframeFor(n int) *FramePlan {
	for i := range p.Frames {
		f := &p.Frames[i]
		if f.IsSecondKeyframe && f.LinkedFrame == n {
			return f
		}
	}
	return nil
}

// LinksToSecondKeyframe は第2キーフレーム f のリンク先が、さらに第2キーフレームであるかを返します。
func (p *StoryboardPlan) LinksToSecondKeyframe(f *FramePlan) bool {
	if !f.IsSecondKeyframe || f.LinkedFrame <= 0 {
		return false
	}
	linked := p.FrameByNumber(f.LinkedFrame)
	return linked != nil && linked.IsSecondKeyframe && linked.LinkedFrame > 0
}

// AnchorURL はアンカー画像の URL を返します。未生成なら空文字です。
func (p *StoryboardPlan) AnchorURL() string {
	if p.Anchor == nil {
		return ""
	}
	return p.Anchor.URL
}

// CompletedFrames は画像生成済みのフレーム数を返します。
func (p *StoryboardPlan) CompletedFrames() int {
	n := 0
	for _, f := range p.Frames {
		if f.ImageURL != "" {
			n++
		}
	}
	return n
}
