package motion

// rect is an axis-aligned bounding box in pixel coordinates.
type rect struct {
	x, y, w, h int
}

func (r rect) union(o rect) rect {
	x0, y0 := min(r.x, o.x), min(r.y, o.y)
	x1, y1 := max(r.x+r.w, o.x+o.w), max(r.y+r.h, o.y+o.h)
	return rect{x: x0, y: y0, w: x1 - x0, h: y1 - y0}
}

// connectedComponents finds 4-connected regions of set pixels in a
// binary mask and returns, for each, its pixel area and bounding box.
// This stands in for OpenCV's findContours + contourArea/boundingRect
// pair: the analyzer only ever needs area and bbox, never the contour
// polygon itself.
func connectedComponents(mask []bool, w, h int) []struct {
	area int
	box  rect
} {
	visited := make([]bool, len(mask))
	var out []struct {
		area int
		box  rect
	}
	stack := make([]int, 0, 64)

	for start := 0; start < len(mask); start++ {
		if !mask[start] || visited[start] {
			continue
		}
		visited[start] = true
		stack = stack[:0]
		stack = append(stack, start)

		area := 0
		minX, minY := w, h
		maxX, maxY := -1, -1

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x, y := idx%w, idx/w
			area++
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}

			neighbors := [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}}
			for _, n := range neighbors {
				nx, ny := n[0], n[1]
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				ni := ny*w + nx
				if mask[ni] && !visited[ni] {
					visited[ni] = true
					stack = append(stack, ni)
				}
			}
		}

		out = append(out, struct {
			area int
			box  rect
		}{area: area, box: rect{x: minX, y: minY, w: maxX - minX + 1, h: maxY - minY + 1}})
	}
	return out
}
