package main

// GoogleLogoURL 固定logo图片地址
const GoogleLogoURL = "https://developers.google.com/static/maps/documentation/images/google_on_white.png"

// LogoElement 挂载到地图上的logo图片
type LogoElement struct {
	Src      string
	PaddingX int
}

// LogoControl 必须展示的Google logo控件
type LogoControl struct {
	element *LogoElement
}

// NewLogoControl 创建logo控件
func NewLogoControl() *LogoControl {
	return &LogoControl{}
}

// OnAdd creates the logo element, once.
func (l *LogoControl) OnAdd(m Map) {
	if l.element != nil {
		return
	}
	l.element = &LogoElement{
		Src:      GoogleLogoURL,
		PaddingX: 5,
	}
}

// OnRemove drops the element, removing twice is a no-op.
func (l *LogoControl) OnRemove(m Map) {
	l.element = nil
}

// Element returns the attached element, nil when detached.
func (l *LogoControl) Element() *LogoElement {
	return l.element
}
