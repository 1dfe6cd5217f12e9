package simulated

const (
	digitWidth  = 4
	digitHeight = 5
	digitCount  = 9
	digitGap    = 1

	// Top-left corner of the rendered counter.
	counterX = 10
	counterY = 10

	glyphOn  = 0xff
	glyphOff = 0x00
)

var glyphRows = [10][digitHeight]string{
	{".##.", "#..#", "#..#", "#..#", ".##."},
	{"..#.", ".##.", "..#.", "..#.", "..#."},
	{".##.", "#..#", "..#.", ".#..", "####"},
	{".##.", "#..#", "..#.", "#..#", ".##."},
	{"#...", "#..#", "####", "...#", "...#"},
	{"####", "#...", ".##.", "...#", "###."},
	{".###", "#...", "###.", "#..#", ".##."},
	{"####", "...#", "..#.", ".#..", "#..."},
	{".##.", "#..#", ".##.", "#..#", ".##."},
	{".##.", "#..#", ".###", "...#", "###."},
}

// glyphs holds each digit as digitWidth*digitHeight pixel values.
var glyphs = func() (out [10][digitWidth * digitHeight]byte) {
	for d, rows := range glyphRows {
		for y, row := range rows {
			for x := 0; x < digitWidth; x++ {
				px := byte(glyphOff)
				if row[x] == '#' {
					px = glyphOn
				}
				out[d][y*digitWidth+x] = px
			}
		}
	}
	return out
}()

// minCounterWidth and minCounterHeight bound the smallest frame that can
// carry the counter.
const (
	minCounterWidth  = counterX + digitCount*(digitWidth+digitGap)
	minCounterHeight = counterY + digitHeight
)

func drawDigit(frame []byte, width, x, y, digit int) {
	g := &glyphs[digit]
	for j := 0; j < digitHeight; j++ {
		copy(frame[(y+j)*width+x:(y+j)*width+x+digitWidth], g[j*digitWidth:(j+1)*digitWidth])
	}
}

func readDigit(frame []byte, width, x, y int) (int, bool) {
	for d := range glyphs {
		g := &glyphs[d]
		match := true
		for j := 0; j < digitHeight && match; j++ {
			row := frame[(y+j)*width+x : (y+j)*width+x+digitWidth]
			for i, px := range row {
				if px != g[j*digitWidth+i] {
					match = false
					break
				}
			}
		}
		if match {
			return d, true
		}
	}
	return 0, false
}

// drawCounter renders n as nine decimal digits at (counterX, counterY).
func drawCounter(frame []byte, width int, n uint32) {
	divisor := uint32(100_000_000)
	x := counterX
	for i := 0; i < digitCount; i++ {
		drawDigit(frame, width, x, counterY, int(n/divisor%10))
		divisor /= 10
		x += digitWidth + digitGap
	}
}

// DecodeCounter reads back the frame counter rendered by the simulated
// camera. It reports false when the frame does not carry a counter.
func DecodeCounter(frame []byte, width int) (uint32, bool) {
	if width < minCounterWidth || len(frame) < width*minCounterHeight {
		return 0, false
	}
	var n uint32
	x := counterX
	for i := 0; i < digitCount; i++ {
		d, ok := readDigit(frame, width, x, counterY)
		if !ok {
			return 0, false
		}
		n = n*10 + uint32(d)
		x += digitWidth + digitGap
	}
	return n, true
}
